package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"gopkg.in/yaml.v3"
)

var errScriptExhausted = errors.New("script has no more streams")

// script is a recorded conversation turn. Each stream answers one request
// the orchestrator makes, in order: the initial turn, retries and
// follow-ups.
type script struct {
	Message string `yaml:"message"`
	// Relay overrides the relay config section for this replay.
	Relay map[string]any `yaml:"relay"`
	// Decisions maps an approval id or tool name to "approve" or "reject".
	Decisions map[string]string `yaml:"decisions"`
	// Delay paces the events of every stream.
	Delay     time.Duration    `yaml:"delay"`
	Streams   [][]scriptStep   `yaml:"streams"`
	Responses []map[string]any `yaml:"responses"`
}

// scriptStep is either an event or, when Fail is set, a transport failure.
type scriptStep struct {
	Fail  string
	Event events.Event
}

func (s *scriptStep) UnmarshalYAML(node *yaml.Node) error {
	var fields map[string]any
	if err := node.Decode(&fields); err != nil {
		return err
	}
	if fail, ok := fields["fail"].(string); ok {
		s.Fail = fail
		return nil
	}
	return decodeThroughJSON(fields, &s.Event)
}

// decodeThroughJSON re-encodes a YAML value so the wire types' JSON
// decoding applies to it.
func decodeThroughJSON(value any, out any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode script value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode script value: %w", err)
	}
	return nil
}

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return parseScript(data)
}

func parseScript(data []byte) (*script, error) {
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if s.Message == "" {
		return nil, errors.New("script has no message")
	}
	if len(s.Streams) == 0 {
		return nil, errors.New("script has no streams")
	}
	return &s, nil
}

func (s *script) responses() (map[llms.ResponseID]*events.Response, error) {
	responses := make(map[llms.ResponseID]*events.Response, len(s.Responses))
	for _, fields := range s.Responses {
		var response events.Response
		if err := decodeThroughJSON(fields, &response); err != nil {
			return nil, err
		}
		responses[llms.ResponseID(response.ID)] = &response
	}
	return responses, nil
}

// decision answers approvals from the script, rejecting anything it does
// not name.
func (s *script) decision() decision {
	return func(request llms.ApprovalRequest) (bool, string) {
		answer, ok := s.Decisions[request.ID]
		if !ok {
			answer = s.Decisions[request.ToolName]
		}
		if answer == "approve" {
			return true, ""
		}
		return false, "rejected by script"
	}
}

// scriptTransport plays the script's streams back as if they came from the
// API.
type scriptTransport struct {
	delay     time.Duration
	responses map[llms.ResponseID]*events.Response

	mu       sync.Mutex
	streams  [][]scriptStep
	requests []llms.Request
}

func newScriptTransport(s *script) (*scriptTransport, error) {
	responses, err := s.responses()
	if err != nil {
		return nil, err
	}
	return &scriptTransport{delay: s.Delay, responses: responses, streams: s.Streams}, nil
}

func (t *scriptTransport) Stream(ctx context.Context, request llms.Request) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		t.mu.Lock()
		t.requests = append(t.requests, request)
		if len(t.streams) == 0 {
			t.mu.Unlock()
			yield(events.Event{}, errScriptExhausted)
			return
		}
		steps := t.streams[0]
		t.streams = t.streams[1:]
		t.mu.Unlock()

		for _, step := range steps {
			if t.delay > 0 {
				select {
				case <-ctx.Done():
					yield(events.Event{}, ctx.Err())
					return
				case <-time.After(t.delay):
				}
			}
			if step.Fail != "" {
				yield(events.Event{}, errors.New(step.Fail))
				return
			}
			event := step.Event
			event.ReceivedAt = time.Now()
			if !yield(event, nil) {
				return
			}
		}
	}
}

func (t *scriptTransport) Retrieve(_ context.Context, id llms.ResponseID) (*events.Response, error) {
	response, ok := t.responses[id]
	if !ok {
		return nil, fmt.Errorf("script has no response %q", id)
	}
	return response, nil
}

func (t *scriptTransport) Requests() []llms.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]llms.Request(nil), t.requests...)
}
