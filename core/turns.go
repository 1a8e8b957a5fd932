package orchestration

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SendMessage starts a new turn. Any turn still in flight is superseded.
// Events for the returned session are delivered by the transport, or can be
// injected with Dispatch.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, attachments ...llms.MediaRef) (llms.SessionID, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return "", ErrEmptyMessage
	}
	if o.transport == nil {
		return "", ErrNoTransport
	}

	ctx, span := tracer.Start(ctx, "send message")
	defer span.End()

	servers, warnings := o.checkServers(ctx)

	var sessionID llms.SessionID
	if !o.lane.call(func() {
		s := o.startTurn(text, attachments, servers)
		for _, warning := range warnings {
			o.appendNotice(s, warning)
		}
		sessionID = s.id
	}) {
		span.SetStatus(codes.Error, ErrClosed.Error())
		return "", ErrClosed
	}

	span.SetAttributes(attribute.String("session.id", string(sessionID)))
	return sessionID, nil
}

func (o *Orchestrator) startTurn(text string, attachments []llms.MediaRef, servers []ServerConfig) *turnSession {
	if previous := o.session; previous != nil {
		previous.deltas.Flush()
		previous.shutdown()
	}

	user := llms.NewMessage(llms.MessageRoleUser, text)
	user.Media = attachments
	assistant := llms.NewMessage(llms.MessageRoleAssistant, "")
	o.messages = append(o.messages, user, assistant)

	s := o.newTurnSession(assistant.ID, text, o.buildRequest(text, attachments, servers), servers)
	o.session = s
	o.setStatus(status.Connecting)
	o.addActivity("Sending message")
	o.commit()

	o.startStream(s, s.request)
	return s
}

func (o *Orchestrator) buildRequest(text string, attachments []llms.MediaRef, servers []ServerConfig) llms.Request {
	request := llms.Request{
		Model:              o.config.Model,
		Instructions:       o.config.Instructions,
		Input:              []llms.InputItem{llms.UserInput(text, attachments...)},
		PreviousResponseID: o.lastResponseID,
		Stream:             o.config.Streaming,
	}

	for _, tool := range o.tools {
		request.Tools = append(request.Tools, tool.Spec())
	}
	for _, server := range servers {
		request.Tools = append(request.Tools, llms.ToolSpec{
			Type:            "mcp",
			ServerLabel:     server.Label,
			ServerURL:       server.URL,
			ConnectorID:     server.ConnectorID,
			Authorization:   server.Token,
			RequireApproval: firstNonEmpty(server.RequireApproval, "never"),
		})
	}
	if o.automation != nil {
		request.Tools = append(request.Tools, llms.ToolSpec{
			Type:          "computer_use_preview",
			DisplayWidth:  o.config.Automation.DisplayWidth,
			DisplayHeight: o.config.Automation.DisplayHeight,
			Environment:   o.config.Automation.Environment,
		})
		request.Truncation = "auto"
	}
	if o.config.ReasoningReplay {
		request.Include = []string{"reasoning.encrypted_content"}
	}
	return request
}

// CancelTurn stops the active turn. Buffered text is kept.
func (o *Orchestrator) CancelTurn() {
	o.lane.call(func() {
		s := o.session
		if s == nil || !s.active {
			return
		}
		s.deltas.Flush()
		s.shutdown()
		o.addActivity("Cancelled")
		o.setStatus(status.Idle)
		o.commit()
	})
}

// startStream opens a new stream for the session. Anything still arriving
// from an earlier stream is ignored from here on.
func (o *Orchestrator) startStream(s *turnSession, request llms.Request) {
	s.generation++
	s.terminal = false
	s.sawText = false
	s.active = true

	generation, ctx := s.generation, s.ctx
	go func() {
		run := panicSafeNamedWorker("stream", func(ctx context.Context) error {
			return o.pump(ctx, s, generation, request)
		})
		if err := run(ctx); err != nil && ctx.Err() == nil {
			o.lane.post(func() {
				if o.session == s && s.generation == generation && !s.terminal {
					s.terminal = true
					o.handleStreamError(s, classifyError(err, o.config.serverLabels()))
				}
			})
		}
	}()
}

func (o *Orchestrator) pump(ctx context.Context, s *turnSession, generation int, request llms.Request) error {
	ctx, span := tracer.Start(ctx, "stream response")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", string(s.id)),
		attribute.String("previous_response_id", string(request.PreviousResponseID)),
	)

	var stream iter.Seq2[events.Event, error]
	if o.config.Streaming {
		request.Stream = true
		stream = o.transport.Stream(ctx, request)
	} else {
		stream = o.responseEvents(ctx, request)
	}

	for event, err := range stream {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = o.now()
		}
		if !o.lane.call(func() {
			if s.generation == generation {
				o.dispatch(s.id, event)
			}
		}) {
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	o.lane.post(func() {
		if o.session == s && s.generation == generation && s.active && !s.terminal {
			s.terminal = true
			o.handleStreamError(s, &StreamError{Class: ClassTransient, Message: "the stream ended before the response finished"})
		}
	})
	return nil
}

// responseEvents turns a single non-streamed response into the event
// sequence the dispatcher expects.
func (o *Orchestrator) responseEvents(ctx context.Context, request llms.Request) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		request.Stream = false
		response, err := o.createResponse(ctx, request)
		if err != nil {
			yield(events.Event{}, err)
			return
		}

		if !yield(events.NewResponseCreated(response.ID), nil) {
			return
		}
		for _, item := range response.Output {
			if !yield(events.NewOutputItemDone(item), nil) {
				return
			}
		}

		switch response.Status {
		case "failed", "cancelled":
			yield(events.NewResponseFailed(response.ID, response.Error), nil)
		case "incomplete":
			reason := ""
			if response.IncompleteDetails != nil {
				reason = response.IncompleteDetails.Reason
			}
			yield(events.NewResponseIncomplete(response.ID, reason), nil)
		default:
			yield(events.NewResponseCompleted(*response), nil)
		}
	}
}

// createResponse runs a request to completion, streaming it when the
// transport can't create responses directly.
func (o *Orchestrator) createResponse(ctx context.Context, request llms.Request) (*events.Response, error) {
	if creator, ok := o.transport.(ResponseCreator); ok {
		request.Stream = false
		return creator.Create(ctx, request)
	}

	request.Stream = true
	return collectResponse(o.transport.Stream(ctx, request), o.config.serverLabels())
}

func collectResponse(stream iter.Seq2[events.Event, error], labels []string) (*events.Response, error) {
	for event, err := range stream {
		if err != nil {
			return nil, err
		}
		switch event.Type {
		case events.KindResponseCompleted, events.KindResponseIncomplete:
			if event.Response != nil {
				return event.Response, nil
			}
		case events.KindResponseFailed, events.KindError:
			return nil, classifyEvent(event, labels)
		}
	}
	return nil, errors.New("stream ended without a response")
}
