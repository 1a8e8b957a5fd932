package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("openai: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("openai: %d: %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int {
	return e.Status
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var payload struct {
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == nil {
		apiErr.Message = string(body)
		return apiErr
	}

	apiErr.Message = payload.Error.Message
	apiErr.Type = payload.Error.Type
	if payload.Error.Code != nil {
		apiErr.Code = fmt.Sprint(payload.Error.Code)
	}
	return apiErr
}
