package orchestration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
)

var (
	ErrClosed           = errors.New("orchestrator closed")
	ErrEmptyMessage     = errors.New("message has no text or attachments")
	ErrNoTransport      = errors.New("no transport configured")
	ErrApprovalNotFound = errors.New("approval request not found")
	ErrApprovalResolved = errors.New("approval request already resolved")
	ErrApprovalStale    = errors.New("approval request belongs to an earlier turn")
)

// ErrorClass groups stream failures by how the turn recovers from them.
type ErrorClass string

const (
	ClassTransient             ErrorClass = "transient"
	ClassContextWindowExceeded ErrorClass = "context_window_exceeded"
	ClassUnauthorized          ErrorClass = "unauthorized"
	ClassAborted               ErrorClass = "aborted"
	ClassToolCall              ErrorClass = "tool_call"
	ClassAutomation            ErrorClass = "automation"
)

type StreamError struct {
	Class       ErrorClass
	Code        string
	Message     string
	Integration string
	Cause       error
}

func (e *StreamError) Error() string {
	if e == nil {
		return ""
	}

	message := e.Message
	if message == "" && e.Cause != nil {
		message = e.Cause.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Class, e.Code, message)
	}
	return fmt.Sprintf("%s: %s", e.Class, message)
}

func (e *StreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *StreamError) Retryable() bool {
	return e != nil && (e.Class == ClassTransient || e.Class == ClassAborted)
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

var contextWindowCodes = []string{
	"context_length_exceeded",
	"context_window_exceeded",
	"string_above_max_length",
}

func classifyError(err error, labels []string) *StreamError {
	if err == nil {
		return nil
	}

	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &StreamError{Class: ClassAborted, Message: "the response was interrupted", Cause: err}
	}

	result := &StreamError{Class: ClassTransient, Message: err.Error(), Cause: err}
	var coded statusCoder
	if errors.As(err, &coded) {
		result.Code = http.StatusText(coded.StatusCode())
		switch code := coded.StatusCode(); {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			result.Class = ClassUnauthorized
			result.Integration = mentionedLabel(err.Error(), labels)
		case code == http.StatusBadRequest && isContextWindow("", err.Error()):
			result.Class = ClassContextWindowExceeded
		}
		return result
	}

	if isContextWindow("", err.Error()) {
		result.Class = ClassContextWindowExceeded
	}
	return result
}

func classifyEvent(event events.Event, labels []string) *StreamError {
	code, message := event.Code, event.Message
	if event.Response != nil && event.Response.Error != nil {
		if code == "" {
			code = event.Response.Error.Code
		}
		if message == "" {
			message = event.Response.Error.Message
		}
	}

	result := &StreamError{Class: ClassTransient, Code: code, Message: message}
	switch {
	case isContextWindow(code, message):
		result.Class = ClassContextWindowExceeded
	case isUnauthorized(code, message):
		result.Class = ClassUnauthorized
		result.Integration = mentionedLabel(message, labels)
	case event.Type == events.KindResponseFailed && code == "" && message == "":
		result.Class = ClassAborted
		result.Message = "the response failed without details"
	case event.Response != nil && event.Response.Status == "cancelled":
		result.Class = ClassAborted
	}
	return result
}

func isContextWindow(code, message string) bool {
	for _, known := range contextWindowCodes {
		if code == known || strings.Contains(message, known) {
			return true
		}
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "context window") || strings.Contains(lower, "maximum context length")
}

func isUnauthorized(code, message string) bool {
	switch code {
	case "unauthorized", "invalid_api_key", "forbidden", "401", "403":
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized")
}

func mentionedLabel(message string, labels []string) string {
	lower := strings.ToLower(message)
	for _, label := range labels {
		if label != "" && strings.Contains(lower, strings.ToLower(label)) {
			return label
		}
	}
	return ""
}
