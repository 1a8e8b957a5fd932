package automation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	waitLoopNotice     = "Stopped the automation because it kept waiting without making progress."
	iterationNotice    = "Stopped the automation after %d steps to avoid an endless loop."
	rejectedNotice     = "Cancelled the automation step that required approval."
	actionFailedNotice = "The automation step failed: %v"
)

type Controller struct {
	backend  Backend
	executor Executor
	host     Host

	maxIterations int
	waitThreshold int

	running atomic.Bool

	mu      sync.Mutex
	state   State
	pending map[string]Pending
}

func NewController(backend Backend, executor Executor, host Host, opts ...ControllerOption) *Controller {
	c := &Controller{
		backend:       backend,
		executor:      executor,
		host:          host,
		maxIterations: DefaultMaxIterations,
		waitThreshold: DefaultWaitThreshold,
		state:         StateIdle,
		pending:       map[string]Pending{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	if c == nil {
		return StateIdle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Running reports whether a resolution loop is in progress.
func (c *Controller) Running() bool {
	return c != nil && c.running.Load()
}

func (c *Controller) PendingApproval(id string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pending[id]
	return pending, ok
}

// loopRun counts what one triggering call has consumed.
type loopRun struct {
	fetches int
	waits   int
}

// ResolvePending resolves every pending automation call of the host's last
// response. Only one loop runs at a time; a concurrent call returns nil
// without doing anything.
func (c *Controller) ResolvePending(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if !c.running.CompareAndSwap(false, true) {
		logger.Debug("automation loop already running, ignoring trigger")
		return nil
	}
	defer c.running.Store(false)
	defer c.settle()

	ctx, span := tracer.Start(ctx, "resolve automation calls")
	defer span.End()

	c.setState(StateAwaitingOutput)
	c.host.SetAwaiting(true)

	run := &loopRun{}
	responseID := c.host.LastResponseID()
	span.SetAttributes(attribute.String("response.id", string(responseID)))

	response, err := c.retrieve(ctx, run, responseID)
	if err == nil {
		err = c.loop(ctx, run, response)
	}
	if err != nil && !Aborted(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Approve resumes the chain with the held-back action, acknowledging its
// safety checks.
func (c *Controller) Approve(ctx context.Context, approvalID string) error {
	if c == nil {
		return ErrApprovalNotFound
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.running.Store(false)

	c.mu.Lock()
	pending, ok := c.pending[approvalID]
	delete(c.pending, approvalID)
	c.mu.Unlock()
	if !ok {
		return ErrApprovalNotFound
	}
	defer c.settle()

	ctx, span := tracer.Start(ctx, "resume approved automation call")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", string(pending.CallID)), attribute.String("action.type", pending.Action.Type))

	c.host.SetAwaiting(true)
	c.host.SetLastResponseID(pending.PreviousResponseID)

	run := &loopRun{}
	response, err := c.step(ctx, run, pending.PreviousResponseID, pending.CallID, pending.Action, pending.Checks)
	if err == nil {
		err = c.loop(ctx, run, response)
	}
	if err != nil && !Aborted(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Reject drops the held-back action and cancels the chain.
func (c *Controller) Reject(approvalID string) error {
	if c == nil {
		return ErrApprovalNotFound
	}

	c.mu.Lock()
	_, ok := c.pending[approvalID]
	delete(c.pending, approvalID)
	c.mu.Unlock()
	if !ok {
		return ErrApprovalNotFound
	}

	c.setState(StateAborted)
	c.host.SetLastResponseID("")
	c.host.AppendNotice(rejectedNotice)
	c.host.SetAwaiting(false)
	return nil
}

func (c *Controller) loop(ctx context.Context, run *loopRun, response *events.Response) error {
	for {
		if ctx.Err() != nil || c.host.Cancelled() {
			c.setState(StateAborted)
			c.host.SetLastResponseID("")
			return ErrCancelled
		}

		c.host.SetLastResponseID(llms.ResponseID(response.ID))
		call := response.LatestComputerCall()
		if call == nil || call.Action == nil {
			c.setState(StateIdle)
			c.host.Settled(response)
			return nil
		}

		if len(call.PendingSafetyChecks) > 0 {
			c.suspend(call, llms.ResponseID(response.ID))
			return nil
		}

		if call.Action.Type == "screenshot" && c.host.HasCapturedResult() {
			logger.Info("halting automation on repeated screenshot request", "call_id", call.CallID)
			c.setState(StateAborted)
			c.host.SetLastResponseID("")
			return ErrScreenshotLoop
		}

		if run.fetches >= c.maxIterations {
			c.abort(fmt.Sprintf(iterationNotice, c.maxIterations))
			return ErrIterationLimit
		}

		if call.Action.Type == "wait" {
			run.waits++
		} else {
			run.waits = 0
		}

		next, err := c.step(ctx, run, llms.ResponseID(response.ID), call.CallID, *call.Action, nil)
		if err != nil {
			return err
		}

		if run.waits >= c.waitThreshold {
			c.abort(waitLoopNotice)
			return ErrWaitLoop
		}
		response = next
	}
}

// step executes one action and sends its result back.
func (c *Controller) step(ctx context.Context, run *loopRun, previous llms.ResponseID, callID llms.CallID, action events.Action, acknowledged []llms.SafetyCheck) (*events.Response, error) {
	ctx, span := tracer.Start(ctx, "execute automation action")
	defer span.End()
	span.SetAttributes(attribute.String("action.type", action.Type), attribute.String("call.id", string(callID)))

	c.setState(StateExecuting)
	automationSteps.Add(ctx, 1)

	c.prepareSurface(ctx, action)
	result, err := c.executor.Execute(ctx, action)
	if err != nil {
		err = fmt.Errorf("failed to execute %q action: %w", action.Type, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(err)
		return nil, err
	}
	if len(result.Screenshot) > 0 {
		c.host.AttachScreenshot(llms.MediaRef{
			Kind:     llms.MediaKindScreenshot,
			MIMEType: "image/png",
			URL:      result.URL,
			Data:     result.Screenshot,
		})
	}

	c.setState(StateAwaitingOutput)
	return c.send(ctx, run, Output{
		PreviousResponseID: previous,
		CallID:             callID,
		Screenshot:         result.Screenshot,
		Acknowledged:       acknowledged,
	})
}

func (c *Controller) retrieve(ctx context.Context, run *loopRun, id llms.ResponseID) (*events.Response, error) {
	if err := c.countFetch(run); err != nil {
		return nil, err
	}
	response, err := c.backend.Retrieve(ctx, id)
	if err != nil {
		err = fmt.Errorf("failed to retrieve response %q: %w", id, err)
		c.fail(err)
		return nil, err
	}
	return response, nil
}

func (c *Controller) send(ctx context.Context, run *loopRun, output Output) (*events.Response, error) {
	if err := c.countFetch(run); err != nil {
		return nil, err
	}
	response, err := c.backend.SendOutput(ctx, output)
	if err != nil {
		err = fmt.Errorf("failed to send automation output for %q: %w", output.CallID, err)
		c.fail(err)
		return nil, err
	}
	return response, nil
}

func (c *Controller) countFetch(run *loopRun) error {
	if run.fetches >= c.maxIterations {
		c.abort(fmt.Sprintf(iterationNotice, c.maxIterations))
		return ErrIterationLimit
	}
	run.fetches++
	return nil
}

func (c *Controller) suspend(call *events.Item, previous llms.ResponseID) {
	pending := Pending{
		ID:                 llms.NewApprovalID(),
		Checks:             append([]llms.SafetyCheck(nil), call.PendingSafetyChecks...),
		CallID:             call.CallID,
		Action:             *call.Action,
		PreviousResponseID: previous,
		MessageID:          c.host.MessageID(),
	}

	c.mu.Lock()
	c.pending[pending.ID] = pending
	c.state = StateAwaitingApproval
	c.mu.Unlock()

	c.host.RequestApproval(pending)
}

func (c *Controller) abort(notice string) {
	c.setState(StateAborted)
	c.host.SetLastResponseID("")
	c.host.AppendNotice(notice)
}

func (c *Controller) fail(err error) {
	logger.Warn("automation step failed", "error", err)
	c.abort(fmt.Sprintf(actionFailedNotice, err))
}

// settle runs on every exit path so the host is never left waiting.
func (c *Controller) settle() {
	c.mu.Lock()
	if c.state == StateExecuting || c.state == StateAwaitingOutput {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.host.SetAwaiting(false)
}
