package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-relay/core/automation"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
)

// automationHost exposes the automated session to the controller. Every
// method hops onto the lane, so it must only be called from off the lane.
type automationHost struct {
	o *Orchestrator
	// session is lane-owned.
	session *turnSession
}

func (h *automationHost) with(fn func(s *turnSession, msg *llms.Message)) {
	h.o.lane.call(func() {
		s := h.session
		if s == nil {
			return
		}
		fn(s, h.o.message(s.messageID))
	})
}

func (h *automationHost) MessageID() llms.MessageID {
	var id llms.MessageID
	h.with(func(s *turnSession, _ *llms.Message) { id = s.messageID })
	return id
}

func (h *automationHost) LastResponseID() llms.ResponseID {
	var id llms.ResponseID
	h.o.lane.call(func() { id = h.o.lastResponseID })
	return id
}

func (h *automationHost) SetLastResponseID(id llms.ResponseID) {
	h.o.lane.call(func() { h.o.setLastResponseID(id) })
}

func (h *automationHost) SetAwaiting(awaiting bool) {
	h.with(func(s *turnSession, _ *llms.Message) {
		s.awaitingAutomationOutput = awaiting
		if !awaiting && h.o.status == status.UsingAutomation {
			h.o.setStatus(status.Idle)
		}
	})
}

func (h *automationHost) AppendNotice(text string) {
	h.with(func(s *turnSession, _ *llms.Message) { h.o.appendNotice(s, text) })
}

// AttachScreenshot keeps only the latest screenshot on the message.
func (h *automationHost) AttachScreenshot(ref llms.MediaRef) {
	h.with(func(_ *turnSession, msg *llms.Message) {
		if msg == nil {
			return
		}
		media := msg.Media[:0]
		for _, existing := range msg.Media {
			if existing.Kind != llms.MediaKindScreenshot {
				media = append(media, existing)
			}
		}
		msg.Media = append(media, ref)
		h.o.commit()
	})
}

func (h *automationHost) HasCapturedResult() bool {
	captured := false
	h.with(func(_ *turnSession, msg *llms.Message) { captured = msg.HasCapturedResult() })
	return captured
}

func (h *automationHost) RequestApproval(pending automation.Pending) {
	h.with(func(s *turnSession, msg *llms.Message) {
		if msg == nil || msg.Approval(pending.ID) != nil {
			return
		}

		reasons := make([]string, 0, len(pending.Checks))
		for _, check := range pending.Checks {
			reasons = append(reasons, firstNonEmpty(check.Message, check.Code))
		}
		msg.Approvals = append(msg.Approvals, llms.ApprovalRequest{
			ID:          pending.ID,
			Kind:        llms.ApprovalKindAutomation,
			ToolName:    pending.Action.Type,
			ServerLabel: "computer",
			Arguments:   actionArguments(pending.Action),
			Status:      llms.ApprovalPending,
			Reason:      strings.Join(reasons, "; "),
		})
		if !msg.HasText() {
			msg.Text = fmt.Sprintf("Approval required to %s on the computer.", pending.Action.Type)
			s.placeholder = msg.Text
		}
		h.o.addActivity("Waiting for approval of a computer action")
		h.o.commit()
	})
}

// Settled renders the text of the response that ended the chain.
func (h *automationHost) Settled(response *events.Response) {
	h.with(func(s *turnSession, msg *llms.Message) {
		if msg == nil || response == nil {
			return
		}
		for _, item := range response.ItemsOfType(events.ItemTypeMessage) {
			if text := item.OutputText(); text != "" {
				if s.placeholder != "" && msg.Text == s.placeholder {
					msg.Text = ""
					s.placeholder = ""
				}
				msg.AppendParagraph(text)
			}
		}
		h.o.applyUsage(s, msg, response.Usage)
		h.o.commit()
	})
}

func (h *automationHost) Instruction() string {
	var text string
	h.with(func(s *turnSession, _ *llms.Message) { text = s.userText })
	return text
}

func (h *automationHost) Cancelled() bool {
	cancelled := true
	h.o.lane.call(func() {
		s := h.session
		cancelled = s == nil || h.o.session != s || s.ctx.Err() != nil
	})
	return cancelled
}

// automationBackend sends action results back to the model.
type automationBackend struct {
	o *Orchestrator
}

func (b *automationBackend) Retrieve(ctx context.Context, id llms.ResponseID) (*events.Response, error) {
	return b.o.transport.Retrieve(ctx, id)
}

func (b *automationBackend) SendOutput(ctx context.Context, output automation.Output) (*events.Response, error) {
	var request llms.Request
	b.o.lane.call(func() {
		if s := b.o.host.session; s != nil {
			request = s.request
		}
	})

	replay := b.o.replayReasoning(ctx, output.PreviousResponseID)
	request = b.o.followUp(request, output.PreviousResponseID, replay, llms.ComputerCallOutput(output.CallID, output.Screenshot, output.Acknowledged))
	return b.o.createResponse(ctx, request)
}
