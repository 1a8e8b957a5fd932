package main

import (
	"context"
	"fmt"
	"log/slog"

	orchestration "github.com/koscakluka/ema-relay/core"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
)

// decision answers a pending approval: approve, or reject with a reason.
type decision func(request llms.ApprovalRequest) (approve bool, reason string)

func rejectAll(llms.ApprovalRequest) (bool, string) { return false, "declined" }

func approveAll(llms.ApprovalRequest) (bool, string) { return true, "" }

// turnDriver sends one message and answers approvals until the turn chain
// settles with nothing left pending.
type turnDriver struct {
	orchestrator *orchestration.Orchestrator
	decide       decision
	settled      chan struct{}
}

func newTurnDriver(orchestrator *orchestration.Orchestrator, decide decision) *turnDriver {
	if decide == nil {
		decide = rejectAll
	}
	return &turnDriver{orchestrator: orchestrator, decide: decide, settled: make(chan struct{}, 1)}
}

func (d *turnDriver) Observe(update status.Update) {
	if update.Kind != status.UpdateStatus {
		return
	}
	switch status.Phase(update.Status) {
	case status.PhaseDone, status.PhaseIdle:
		select {
		case d.settled <- struct{}{}:
		default:
		}
	}
}

func (d *turnDriver) Run(ctx context.Context, text string) error {
	if _, err := d.orchestrator.SendMessage(ctx, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			d.orchestrator.CancelTurn()
			return ctx.Err()
		case <-d.settled:
		}

		pending := pendingApprovals(d.orchestrator.Messages())
		if len(pending) == 0 {
			return nil
		}
		for _, request := range pending {
			approve, reason := d.decide(request)
			slog.Info("answering approval", "id", request.ID, "tool", request.ToolName, "approve", approve)

			var err error
			if approve {
				err = d.orchestrator.Approve(ctx, request.ID)
			} else {
				err = d.orchestrator.Reject(ctx, request.ID, reason)
			}
			if err != nil {
				return fmt.Errorf("failed to answer approval %s: %w", request.ID, err)
			}
		}
	}
}

// pendingApprovals returns the undecided approvals of the last assistant
// message.
func pendingApprovals(messages []llms.Message) []llms.ApprovalRequest {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llms.MessageRoleAssistant {
			continue
		}
		var pending []llms.ApprovalRequest
		for _, request := range messages[i].Approvals {
			if request.IsPending() {
				pending = append(pending, request)
			}
		}
		return pending
	}
	return nil
}
