package orchestration

import (
	"fmt"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
)

const (
	contextWindowNotice = "This conversation is too long for the model to continue. Start a new conversation or remove some attachments and try again."
	unauthorizedNotice  = "Authorization failed for %s. Reconnect it and try again."
)

func (o *Orchestrator) handleCompleted(s *turnSession, msg *llms.Message, event events.Event) {
	s.terminal = true
	s.deltas.Flush()

	if response := event.Response; response != nil {
		if len(response.ItemsOfType(events.ItemTypeReasoning)) > 0 {
			o.reasoning.Store(llms.ResponseID(response.ID), response.Output)
		}
		if !s.sawText {
			for _, item := range response.ItemsOfType(events.ItemTypeMessage) {
				o.completeMessageItem(s, msg, &item)
			}
		}
		o.applyUsage(s, msg, response.Usage)
	} else {
		o.applyUsage(s, msg, nil)
	}
	o.commit()

	switch {
	case len(s.functionCalls) > 0:
		o.runFunctionCalls(s)
	case s.awaitingAutomationOutput:
		o.startAutomation(s)
	default:
		o.finishTurn(s, status.Done)
	}
}

func (o *Orchestrator) handleFailed(s *turnSession, _ *llms.Message, event events.Event) {
	s.terminal = true
	failure := classifyEvent(event, o.config.serverLabels())
	if failure.Class == ClassAborted && event.Response != nil {
		for _, item := range event.Response.Output {
			logger.Warn("failed response output", "response_id", event.Response.ID, "item_id", item.ID, "type", item.Type, "status", item.Status)
		}
	}
	o.handleStreamError(s, failure)
}

func (o *Orchestrator) handleErrorEvent(s *turnSession, _ *llms.Message, event events.Event) {
	s.terminal = true
	o.handleStreamError(s, classifyEvent(event, o.config.serverLabels()))
}

func (o *Orchestrator) handleIncomplete(s *turnSession, msg *llms.Message, event events.Event) {
	s.terminal = true
	s.deltas.Flush()

	reason := "unknown reason"
	if event.Response != nil {
		if event.Response.IncompleteDetails != nil && event.Response.IncompleteDetails.Reason != "" {
			reason = event.Response.IncompleteDetails.Reason
		}
		o.applyUsage(s, msg, event.Response.Usage)
	}
	o.appendNotice(s, fmt.Sprintf("The response was cut short (%s).", reason))
	o.finishTurn(s, status.Done)
}

// handleStreamError settles a failed stream. Recoverable failures are
// retried once before anything has been shown; everything else ends the
// turn with a single notice.
func (o *Orchestrator) handleStreamError(s *turnSession, failure *StreamError) {
	s.deltas.Flush()

	o.recordError(s.ctx, fmt.Errorf("stream failed: %w", failure))

	switch failure.Class {
	case ClassContextWindowExceeded:
		o.appendNotice(s, contextWindowNotice)
	case ClassUnauthorized:
		integration := failure.Integration
		if integration != "" {
			s.revoked[integration] = true
			if err := o.preflight.Revoke(s.ctx, integration); err != nil {
				logger.Warn("failed to revoke preflight record", "server_label", integration, "error", err)
			}
		}
		o.appendNotice(s, fmt.Sprintf(unauthorizedNotice, firstNonEmpty(integration, "the model provider")))
	case ClassTransient, ClassAborted:
		if o.attemptStreamingRetry(s, failure) {
			return
		}
		o.appendNotice(s, "The response failed: "+firstNonEmpty(failure.Message, string(failure.Class)))
	default:
		o.appendNotice(s, failure.Error())
	}

	o.setLastResponseID(s.baseResponseID)
	o.finishTurn(s, status.Idle)
}

// finishTurn settles the session. Later events for it are dropped until an
// approval resumes it.
func (o *Orchestrator) finishTurn(s *turnSession, final status.Status) {
	s.deltas.Flush()
	s.active = false
	s.awaitingAutomationOutput = false
	s.functionCalls = nil
	o.setStatus(final)
	o.commit()
}

// applyUsage adds reported usage to the message. Without a report the turn
// is estimated instead.
func (o *Orchestrator) applyUsage(s *turnSession, msg *llms.Message, usage *events.Usage) {
	if usage != nil {
		if msg.Usage.Estimated {
			msg.Usage = llms.Usage{}
		}
		msg.Usage.InputTokens += usage.InputTokens
		msg.Usage.OutputTokens += usage.OutputTokens
		msg.Usage.TotalTokens += usage.TotalTokens
		return
	}
	if msg.Usage.TotalTokens > 0 && !msg.Usage.Estimated {
		return
	}

	input, output := estimateTokens(s.userText), estimateTokens(msg.Text)
	msg.Usage = llms.Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output, Estimated: true}
}
