package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	eventPrefix = "event:"
	chunkPrefix = "data:"
	doneChunk   = "[DONE]"

	maxEventSize = 4 << 20
)

// Stream sends request with streaming enabled and yields every server-sent
// event. The sequence ends when the server closes the stream or ctx is done.
func (c *Client) Stream(ctx context.Context, request llms.Request) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "stream response")
		defer span.End()
		span.SetAttributes(attribute.String("model", request.Model))

		request.Stream = true
		req, err := c.newRequest(ctx, http.MethodPost, "/responses", request)
		if err != nil {
			yield(events.Event{}, err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.do(req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(events.Event{}, err)
			return
		}
		defer resp.Body.Close()

		count := 0
		for event, err := range readEvents(resp.Body) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(events.Event{}, err)
				return
			}
			count++
			if !yield(event, nil) {
				return
			}
		}
		span.SetAttributes(attribute.Int("events", count))
	}
}

// readEvents parses a server-sent event stream. Data lines of one event are
// joined and decoded when the blank line that ends the event arrives.
func readEvents(body io.Reader) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

		var (
			name string
			data strings.Builder
		)
		emit := func() bool {
			defer func() {
				name = ""
				data.Reset()
			}()

			payload := strings.TrimSpace(data.String())
			if payload == "" || payload == doneChunk {
				return true
			}

			var event events.Event
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				return yield(events.Event{}, fmt.Errorf("error unmarshalling event %q: %w", name, err))
			}
			if event.Type == "" {
				event.Type = events.Kind(name)
			}
			event.ReceivedAt = time.Now()
			return yield(event, nil)
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !emit() {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, eventPrefix):
				name = strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
			case strings.HasPrefix(line, chunkPrefix):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, chunkPrefix), " "))
			default:
				logger.Debug("skipping unexpected stream line", "line", line)
			}
		}
		if err := scanner.Err(); err != nil {
			yield(events.Event{}, fmt.Errorf("error reading stream: %w", err))
			return
		}
		emit()
	}
}
