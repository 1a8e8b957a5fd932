package orchestration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/koscakluka/ema-relay/core/events"
)

type httpError struct {
	status  int
	message string
}

func (e httpError) Error() string   { return e.message }
func (e httpError) StatusCode() int { return e.status }

func TestClassifyEvent(t *testing.T) {
	labels := []string{"github", "notes"}
	tests := []struct {
		name        string
		event       events.Event
		class       ErrorClass
		integration string
	}{
		{
			name:  "context window code",
			event: events.NewError("context_length_exceeded", "too long"),
			class: ClassContextWindowExceeded,
		},
		{
			name:  "context window message",
			event: events.NewError("invalid_request_error", "This model's maximum context length is 128000 tokens."),
			class: ClassContextWindowExceeded,
		},
		{
			name:        "unauthorized integration",
			event:       events.NewError("", "Error retrieving tool list from MCP server: 'GitHub'. Http status code: 401 (Unauthorized)"),
			class:       ClassUnauthorized,
			integration: "github",
		},
		{
			name:  "failed without details",
			event: events.NewResponseFailed("resp_1", nil),
			class: ClassAborted,
		},
		{
			name:  "server error",
			event: events.NewError("server_error", "The server had an error."),
			class: ClassTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyEvent(tt.event, labels)
			if got.Class != tt.class {
				t.Fatalf("class = %q, want %q", got.Class, tt.class)
			}
			if got.Integration != tt.integration {
				t.Fatalf("integration = %q, want %q", got.Integration, tt.integration)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		class     ErrorClass
		retryable bool
	}{
		{name: "cancelled", err: context.Canceled, class: ClassAborted, retryable: true},
		{name: "unauthorized", err: httpError{status: 401, message: "invalid key"}, class: ClassUnauthorized},
		{name: "bad gateway", err: httpError{status: 502, message: "bad gateway"}, class: ClassTransient, retryable: true},
		{name: "wrapped context window", err: fmt.Errorf("stream: %w", errors.New("context_length_exceeded")), class: ClassContextWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err, nil)
			if got.Class != tt.class {
				t.Fatalf("class = %q, want %q", got.Class, tt.class)
			}
			if got.Retryable() != tt.retryable {
				t.Fatalf("Retryable() = %v, want %v", got.Retryable(), tt.retryable)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("classified error does not wrap %v", tt.err)
			}
		})
	}
}
