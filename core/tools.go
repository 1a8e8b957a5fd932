package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
	"github.com/koscakluka/ema-relay/core/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type functionResult struct {
	call   pendingFunction
	output string
	err    error
}

func (r functionResult) input() llms.InputItem {
	if r.err != nil {
		return llms.FunctionCallOutput(r.call.callID, "Error: "+r.err.Error())
	}
	return llms.FunctionCallOutput(r.call.callID, r.output)
}

func (o *Orchestrator) callTool(ctx context.Context, call pendingFunction) functionResult {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.name), attribute.String("call.id", string(call.callID)))

	for _, tool := range o.tools {
		if tool.Name != call.name {
			continue
		}

		var output string
		run := panicSafeNamedWorker(call.name, func(ctx context.Context) error {
			var err error
			output, err = tool.Execute(ctx, call.arguments)
			return err
		})
		if err := run(ctx); err != nil {
			err = fmt.Errorf("failed to execute tool %q: %w", call.name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return functionResult{call: call, err: err}
		}
		return functionResult{call: call, output: output}
	}

	err := fmt.Errorf("tool not found: %s", call.name)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return functionResult{call: call, err: err}
}

// runFunctionCalls executes the turn's local function calls off the lane and
// continues the response with their outputs, replaying reasoning for the
// response that requested them.
func (o *Orchestrator) runFunctionCalls(s *turnSession) {
	calls := s.functionCalls
	s.functionCalls = nil
	previous := o.lastResponseID
	ctx, generation := s.ctx, s.generation

	o.setStatus(status.UsingTool(calls[0].name))

	go func() {
		ctx, span := tracer.Start(ctx, "run function calls")
		defer span.End()
		span.SetAttributes(attribute.Int("call.count", len(calls)))

		results := make([]functionResult, len(calls))
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = o.callTool(ctx, call)
			}()
		}
		wg.Wait()

		replay := o.replayReasoning(ctx, previous)
		if ctx.Err() != nil {
			return
		}

		o.lane.post(func() {
			if o.session != s || s.generation != generation {
				return
			}
			o.continueWithOutputs(s, previous, replay, results)
		})
	}()
}

// replayReasoning returns the reasoning of previous as replayable input for a
// continuation. It may block on a repair fetch and must not run on the lane.
func (o *Orchestrator) replayReasoning(ctx context.Context, previous llms.ResponseID) []llms.InputItem {
	replay, err := o.reasoning.Replay(ctx, previous, o.config.ReasoningReplay, o.transport.Retrieve)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("failed to replay reasoning", "response_id", string(previous), "error", err)
	}
	return replay
}

// followUp builds a continuation of previous whose input starts with the
// replayed reasoning. The cache entry is consumed.
func (o *Orchestrator) followUp(request llms.Request, previous llms.ResponseID, replay []llms.InputItem, input ...llms.InputItem) llms.Request {
	o.reasoning.Remove(previous)
	return request.WithFollowUp(previous, append(append([]llms.InputItem{}, replay...), input...)...)
}

func (o *Orchestrator) continueWithOutputs(s *turnSession, previous llms.ResponseID, replay []llms.InputItem, results []functionResult) {
	var input []llms.InputItem
	for _, result := range results {
		outcome := s.calls.Done(s.ctx, result.call.itemID, tools.CallResult{
			Name:      result.call.name,
			Arguments: result.call.arguments,
			Output:    result.output,
			ErrorText: errorText(result.err),
		})
		if outcome.Warning != "" {
			o.appendNotice(s, outcome.Warning)
		}
		input = append(input, result.input())
	}

	o.setStatus(status.Thinking)
	o.startStream(s, o.followUp(s.request, previous, replay, input...))
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
