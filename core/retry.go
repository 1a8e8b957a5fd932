package orchestration

import (
	"github.com/koscakluka/ema-relay/core/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// attemptStreamingRetry re-issues the turn's original request after a
// backoff. A retry is only possible while nothing has been shown for the
// turn and no integration lost its authorization.
func (o *Orchestrator) attemptStreamingRetry(s *turnSession, failure *StreamError) bool {
	refuse := func(reason string) bool {
		logger.Debug("not retrying stream", "session_id", string(s.id), "reason", reason, "error", failure.Error())
		return false
	}

	switch {
	case s.retry == nil:
		return refuse("no retry context")
	case s.retry.attemptsRemaining <= 0:
		return refuse("no attempts left")
	case o.message(s.messageID).HasText() || s.deltas.Len() > 0:
		return refuse("text already shown")
	case s.revokedIntegration() != "":
		return refuse("integration revoked")
	}

	s.retry.attemptsRemaining--
	s.retry.scheduled = true
	retries.Add(s.ctx, 1, metric.WithAttributes(attribute.String("error.class", string(failure.Class))))
	logger.Info("retrying stream", "session_id", string(s.id), "error", failure.Error())

	s.restartContext(o.baseContext)
	s.generation++
	s.terminal = false
	o.setLastResponseID(s.baseResponseID)
	o.setStatus(status.Connecting)
	o.addActivity("Retrying")

	ctx, generation := s.ctx, s.generation
	go func() {
		if err := o.sleep(ctx, o.config.RetryBackoff); err != nil {
			return
		}
		o.lane.post(func() {
			if o.session != s || s.generation != generation || !s.active {
				return
			}
			s.retry.scheduled = false
			o.startStream(s, s.request.WithFollowUp(s.baseResponseID, s.request.Input...))
		})
	}()
	return true
}
