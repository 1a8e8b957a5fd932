package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-relay/core/automation"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
)

const automationUnavailableNotice = "This response needs computer control, which isn't configured."

// Approve accepts a pending approval request and resumes the turn that
// raised it.
func (o *Orchestrator) Approve(ctx context.Context, approvalID string) error {
	var (
		s        *turnSession
		request  llms.ApprovalRequest
		previous llms.ResponseID
		err      error
	)
	if !o.lane.call(func() {
		s, request, err = o.resolveApproval(approvalID, llms.ApprovalApproved, "")
		previous = o.lastResponseID
	}) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "approve")
	defer span.End()

	if request.Kind == llms.ApprovalKindAutomation {
		o.lane.call(func() {
			o.runAutomation(s, func(ctx context.Context) error {
				return o.automation.Approve(ctx, approvalID)
			})
		})
		return nil
	}

	replay := o.replayReasoning(ctx, previous)
	o.lane.call(func() {
		if o.session != s || s.ctx.Err() != nil {
			return
		}
		o.setStatus(status.Thinking)
		o.addActivity(fmt.Sprintf("Approved %s", request.ToolName))
		o.startStream(s, o.followUp(s.request, previous, replay, llms.MCPApprovalResponse(approvalID, true, "")))
	})
	return nil
}

// Reject declines a pending approval request. The turn ends; the declined
// call is never continued.
func (o *Orchestrator) Reject(ctx context.Context, approvalID, reason string) error {
	var (
		s       *turnSession
		request llms.ApprovalRequest
		err     error
	)
	if !o.lane.call(func() { s, request, err = o.resolveApproval(approvalID, llms.ApprovalRejected, reason) }) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	_, span := tracer.Start(ctx, "reject")
	defer span.End()

	if request.Kind == llms.ApprovalKindAutomation {
		if err := o.automation.Reject(approvalID); err != nil {
			o.recordError(ctx, fmt.Errorf("failed to reject automation action: %w", err))
		}
		o.lane.call(func() { o.finishTurn(s, status.Idle) })
		return nil
	}

	o.lane.call(func() {
		o.setLastResponseID("")
		o.appendNotice(s, fmt.Sprintf("Cancelled %s on %s.", request.ToolName, request.ServerLabel))
		o.finishTurn(s, status.Idle)
	})
	return nil
}

// resolveApproval records a decision on an approval of the current turn.
func (o *Orchestrator) resolveApproval(approvalID string, decision llms.ApprovalStatus, reason string) (*turnSession, llms.ApprovalRequest, error) {
	s := o.session
	var request *llms.ApprovalRequest
	if s != nil {
		request = o.message(s.messageID).Approval(approvalID)
	}
	if request == nil {
		for i := range o.messages {
			if o.messages[i].Approval(approvalID) != nil {
				return nil, llms.ApprovalRequest{}, ErrApprovalStale
			}
		}
		return nil, llms.ApprovalRequest{}, ErrApprovalNotFound
	}
	if !request.IsPending() {
		return nil, llms.ApprovalRequest{}, ErrApprovalResolved
	}
	if s.ctx.Err() != nil {
		return nil, llms.ApprovalRequest{}, ErrApprovalStale
	}

	request.Status = decision
	request.Reason = reason
	o.commit()
	return s, *request, nil
}

func (o *Orchestrator) startAutomation(s *turnSession) {
	if o.automation == nil {
		o.appendNotice(s, automationUnavailableNotice)
		o.setLastResponseID("")
		o.finishTurn(s, status.Idle)
		return
	}
	o.runAutomation(s, o.automation.ResolvePending)
}

// runAutomation runs the automation loop for s off the lane and settles the
// turn once it returns.
func (o *Orchestrator) runAutomation(s *turnSession, run func(context.Context) error) {
	o.host.session = s
	s.active = true
	s.awaitingAutomationOutput = true
	o.setStatus(status.UsingAutomation)

	ctx := s.ctx
	go func() {
		err := run(ctx)
		if err != nil && !automation.Aborted(err) {
			o.recordError(ctx, fmt.Errorf("automation failed: %w", err))
		}

		o.lane.post(func() {
			if o.session != s {
				return
			}
			final := status.Done
			if err != nil || o.automation.State() == automation.StateAwaitingApproval {
				final = status.Idle
			}
			o.finishTurn(s, final)
		})
	}()
}
