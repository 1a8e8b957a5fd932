package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Create runs request without streaming and returns the finished response.
func (c *Client) Create(ctx context.Context, request llms.Request) (*events.Response, error) {
	ctx, span := tracer.Start(ctx, "create response")
	defer span.End()

	request.Stream = false
	req, err := c.newRequest(ctx, http.MethodPost, "/responses", request)
	if err != nil {
		return nil, err
	}

	var response events.Response
	if err := c.doJSON(req, &response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("response.id", response.ID))
	return &response, nil
}

func (c *Client) Retrieve(ctx context.Context, id llms.ResponseID) (*events.Response, error) {
	ctx, span := tracer.Start(ctx, "retrieve response")
	defer span.End()
	span.SetAttributes(attribute.String("response.id", string(id)))

	req, err := c.newRequest(ctx, http.MethodGet, "/responses/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return nil, err
	}

	var response events.Response
	if err := c.doJSON(req, &response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to retrieve response %s: %w", id, err)
	}
	return &response, nil
}

// FetchFile downloads a file produced inside a code interpreter container.
func (c *Client) FetchFile(ctx context.Context, containerID, fileID string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "fetch container file")
	defer span.End()
	span.SetAttributes(attribute.String("container.id", containerID), attribute.String("file.id", fileID))

	path := "/containers/" + url.PathEscape(containerID) + "/files/" + url.PathEscape(fileID) + "/content"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", fileID, err)
	}
	return data, nil
}
