package orchestration

import (
	"context"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type eventHandler func(o *Orchestrator, s *turnSession, msg *llms.Message, event events.Event)

func newEventHandlers() map[events.Kind]eventHandler {
	noop := func(*Orchestrator, *turnSession, *llms.Message, events.Event) {}
	return map[events.Kind]eventHandler{
		events.KindResponseCreated:    noop,
		events.KindResponseQueued:     noop,
		events.KindResponseInProgress: noop,
		events.KindResponseCompleted:  (*Orchestrator).handleCompleted,
		events.KindResponseFailed:     (*Orchestrator).handleFailed,
		events.KindResponseIncomplete: (*Orchestrator).handleIncomplete,
		events.KindError:              (*Orchestrator).handleErrorEvent,

		events.KindOutputItemAdded: (*Orchestrator).handleItemAdded,
		events.KindOutputItemDone:  (*Orchestrator).handleItemDone,

		events.KindContentPartAdded: noop,
		events.KindContentPartDone:  noop,

		events.KindOutputTextDelta:           (*Orchestrator).handleTextDelta,
		events.KindOutputTextDone:            (*Orchestrator).handleTextDone,
		events.KindOutputTextAnnotationAdded: (*Orchestrator).handleAnnotationAdded,

		events.KindReasoningSummaryTextDelta: noop,
		events.KindReasoningSummaryTextDone:  noop,

		events.KindFunctionCallArgumentsDelta: (*Orchestrator).handleArgumentsDelta,
		events.KindFunctionCallArgumentsDone:  (*Orchestrator).handleArgumentsDone,
		events.KindMCPCallArgumentsDelta:      (*Orchestrator).handleArgumentsDelta,
		events.KindMCPCallArgumentsDone:       (*Orchestrator).handleArgumentsDone,

		events.KindMCPCallInProgress: (*Orchestrator).handleToolProgress,
		events.KindMCPCallCompleted:  (*Orchestrator).handleToolProgress,
		events.KindMCPCallFailed:     (*Orchestrator).handleToolProgress,

		events.KindMCPListToolsInProgress: (*Orchestrator).handleToolProgress,
		events.KindMCPListToolsCompleted:  (*Orchestrator).handleToolProgress,
		events.KindMCPListToolsFailed:     (*Orchestrator).handleToolProgress,

		events.KindImageGenerationInProgress:   noop,
		events.KindImageGenerationGenerating:   noop,
		events.KindImageGenerationPartialImage: noop,
		events.KindImageGenerationCompleted:    noop,
	}
}

// Dispatch applies a stream event to the given session. Events for any other
// session, or for a session that already settled, are dropped.
func (o *Orchestrator) Dispatch(sessionID llms.SessionID, event events.Event) {
	o.lane.call(func() { o.dispatch(sessionID, event) })
}

func (o *Orchestrator) dispatch(sessionID llms.SessionID, event events.Event) {
	s := o.session
	if s == nil || s.id != sessionID || !s.active {
		o.drop(sessionID, event, "inactive session")
		return
	}
	msg := o.message(s.messageID)
	if msg == nil {
		o.drop(sessionID, event, "message missing")
		return
	}

	responseID := o.lastResponseID
	if event.Response != nil && event.Response.ID != "" {
		responseID = llms.ResponseID(event.Response.ID)
	}
	if signature := event.Signature(responseID); signature != "" {
		if _, seen := s.signatures[signature]; seen {
			o.drop(sessionID, event, "duplicate")
			return
		}
		s.signatures[signature] = struct{}{}
	}

	if next, ok := status.ForEvent(event); ok {
		o.setStatus(next)
	}
	if event.Response != nil && event.Response.ID != "" {
		o.setLastResponseID(llms.ResponseID(event.Response.ID))
	}

	handler, ok := o.handlers[event.Type]
	if !ok {
		ignoredEvents.Add(s.ctx, 1, metric.WithAttributes(attribute.String("event.type", string(event.Type))))
		logger.Debug("ignoring unknown event", "type", string(event.Type))
		return
	}
	handler(o, s, msg, event)
}

func (o *Orchestrator) drop(sessionID llms.SessionID, event events.Event, reason string) {
	droppedEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	logger.Debug("dropping event", "session_id", string(sessionID), "type", string(event.Type), "reason", reason)
}
