package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/preflight"
	"github.com/koscakluka/ema-relay/core/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

func awaitRequests(t *testing.T, transport *stubTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return transport.requestCount() == n }, eventually, time.Millisecond)
}

func TestDispatchIgnoresOtherSessions(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	send(t, o, "hello")

	o.Dispatch("someone-else", events.NewTextDelta("msg_1", "Hello there."))
	o.Dispatch("someone-else", completed("resp_1"))

	assert.Empty(t, assistantText(o))
	assert.Equal(t, status.Connecting, o.Status())
	assert.Empty(t, o.LastResponseID())
}

func TestDeltasCoalesceIntoMessage(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "greet me")

	for _, delta := range []string{"Hel", "lo, ", "world!"} {
		o.Dispatch(sessionID, events.NewTextDelta("msg_1", delta))
	}

	assert.Equal(t, "Hello, world!", assistantText(o))
}

func TestDeltasConcatenateRegardlessOfChunking(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog and keeps running without a full stop"
	for _, size := range []int{1, 3, 7, 19, 40} {
		o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
		sessionID := send(t, o, "story")

		o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
		for start := 0; start < len(text); start += size {
			end := min(start+size, len(text))
			o.Dispatch(sessionID, events.NewTextDelta("msg_1", text[start:end]))
		}
		o.Dispatch(sessionID, completed("resp_1"))

		if got := assistantText(o); got != text {
			t.Fatalf("chunk size %d: text = %q, want %q", size, got, text)
		}
	}
}

func TestShortDeltaFlushesAfterQuietPeriod(t *testing.T) {
	o, clock := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "hi")

	o.Dispatch(sessionID, events.NewTextDelta("msg_1", "Hi"))
	assert.Empty(t, assistantText(o))

	clock.FireAll()
	require.Eventually(t, func() bool { return assistantText(o) == "Hi" }, eventually, time.Millisecond)
}

func TestCancelTurnFlushesBufferedText(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "hi")

	o.Dispatch(sessionID, events.NewTextDelta("msg_1", "Partial"))
	o.CancelTurn()
	o.Dispatch(sessionID, events.NewTextDelta("msg_1", " more."))

	assert.Equal(t, "Partial", assistantText(o))
	assert.Equal(t, status.Idle, o.Status())
}

func TestDuplicateSequenceIsDropped(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "hi")

	o.Dispatch(sessionID, events.NewResponseCreated("resp_1").WithSequence(0))
	delta := events.NewTextDelta("msg_1", "Once.").WithSequence(1)
	o.Dispatch(sessionID, delta)
	o.Dispatch(sessionID, delta)

	assert.Equal(t, "Once.", assistantText(o))
}

func TestTransientFailureRetriesOnce(t *testing.T) {
	transport := &stubTransport{scripts: [][]events.Event{
		{events.NewError("server_error", "boom")},
		{events.NewError("server_error", "boom")},
	}}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	send(t, o, "hello")

	require.Eventually(t, func() bool { return len(systemNotices(o)) == 1 }, eventually, time.Millisecond)

	assert.Equal(t, 2, transport.requestCount())
	assert.Equal(t, transport.request(0).Input, transport.request(1).Input)
	assert.Empty(t, transport.request(1).PreviousResponseID)
	assert.Equal(t, []string{"The response failed: boom"}, systemNotices(o))
	assert.Equal(t, status.Idle, o.Status())
}

func TestRetryContinuesFromPreviousTurn(t *testing.T) {
	transport := &stubTransport{scripts: [][]events.Event{
		{events.NewResponseCreated("resp_0"), events.NewTextDelta("msg_0", "First answer."), completed("resp_0")},
		{events.NewResponseCreated("resp_x"), events.NewError("server_error", "boom")},
		{events.NewResponseCreated("resp_y"), events.NewError("server_error", "boom")},
	}}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	send(t, o, "hello")
	require.Eventually(t, func() bool { return o.Status() == status.Done }, eventually, time.Millisecond)
	require.Equal(t, llms.ResponseID("resp_0"), o.LastResponseID())

	send(t, o, "and again")
	require.Eventually(t, func() bool { return len(systemNotices(o)) == 1 && o.Status() == status.Idle }, eventually, time.Millisecond)

	assert.Equal(t, 3, transport.requestCount())
	assert.Equal(t, llms.ResponseID("resp_0"), transport.request(1).PreviousResponseID)
	assert.Equal(t, llms.ResponseID("resp_0"), transport.request(2).PreviousResponseID)
	assert.Equal(t, transport.request(1).Input, transport.request(2).Input)
	assert.Equal(t, llms.ResponseID("resp_0"), o.LastResponseID())
	assert.Equal(t, []string{"The response failed: boom"}, systemNotices(o))
}

func TestNoRetryAfterTextWasShown(t *testing.T) {
	transport := &stubTransport{scripts: [][]events.Event{
		{
			events.NewResponseCreated("resp_1"),
			events.NewTextDelta("msg_1", "Partial answer."),
			events.NewError("server_error", "boom"),
		},
	}}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	send(t, o, "hello")

	require.Eventually(t, func() bool { return len(systemNotices(o)) == 1 }, eventually, time.Millisecond)

	assert.Equal(t, 1, transport.requestCount())
	assert.Equal(t, "Partial answer.", assistantText(o))
	assert.Empty(t, o.LastResponseID())
}

func TestContextWindowFailureIsNotRetried(t *testing.T) {
	transport := &stubTransport{scripts: [][]events.Event{
		{events.NewError("context_length_exceeded", "Your input exceeds the context window of this model.")},
	}}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	send(t, o, "hello")

	require.Eventually(t, func() bool { return len(systemNotices(o)) == 1 }, eventually, time.Millisecond)
	assert.Equal(t, 1, transport.requestCount())
	assert.Equal(t, []string{contextWindowNotice}, systemNotices(o))
}

func TestUnauthorizedFailureRevokesIntegration(t *testing.T) {
	store := preflight.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "github", preflight.Record{OK: true, CheckedAt: time.Now()}))

	transport := &stubTransport{scripts: [][]events.Event{
		{events.NewError("http_error", "Error retrieving tool list from MCP server 'github'. Http status code: 401 (Unauthorized)")},
	}}
	config := DefaultConfig()
	config.Servers = []ServerConfig{{Label: "github", URL: "https://mcp.example.com"}}
	o, _ := newTestOrchestrator(t, transport, config, WithPreflightStore(store))
	send(t, o, "list my issues")

	require.Eventually(t, func() bool { return len(systemNotices(o)) == 1 }, eventually, time.Millisecond)
	assert.Equal(t, 1, transport.requestCount())

	record, found, err := store.Get(context.Background(), "github")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, record.OK)
}

func TestStreamEndingEarlyIsRetried(t *testing.T) {
	transport := &stubTransport{scripts: [][]events.Event{
		{events.NewResponseCreated("resp_1")},
		{events.NewResponseCreated("resp_2"), events.NewTextDelta("msg_1", "Recovered."), completed("resp_2")},
	}}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	send(t, o, "hello")

	require.Eventually(t, func() bool { return o.Status() == status.Done }, eventually, time.Millisecond)
	assert.Equal(t, "Recovered.", assistantText(o))
	assert.Equal(t, llms.ResponseID("resp_2"), o.LastResponseID())
	assert.Empty(t, systemNotices(o))
}

func TestIdenticalToolFailuresProduceOneNotice(t *testing.T) {
	config := DefaultConfig()
	config.Servers = []ServerConfig{{Label: "github", URL: "https://mcp.example.com"}}
	o, _ := newTestOrchestrator(t, &stubTransport{}, config)
	sessionID := send(t, o, "search")

	failedCall := func(id string) events.Event {
		return events.NewOutputItemDone(events.Item{
			ID:          id,
			Type:        events.ItemTypeMCPCall,
			Name:        "search",
			ServerLabel: "github",
			Arguments:   `{"q":"bug"}`,
			Status:      "failed",
			Error:       &events.ItemError{Message: "rate limited", Code: "429"},
		})
	}
	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, failedCall("mcp_1"))
	o.Dispatch(sessionID, failedCall("mcp_2"))

	notices := systemNotices(o)
	require.Len(t, notices, 1)
	assert.True(t, strings.HasPrefix(notices[0], "Tool call search on github failed: rate limited"), notices[0])
}

func TestToolOutputIsRendered(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "weather")

	o.Dispatch(sessionID, events.NewOutputItemAdded(events.Item{ID: "mcp_1", Type: events.ItemTypeMCPCall, Name: "forecast", ServerLabel: "weather"}))
	o.Dispatch(sessionID, events.NewOutputItemDone(events.Item{
		ID:          "mcp_1",
		Type:        events.ItemTypeMCPCall,
		Name:        "forecast",
		ServerLabel: "weather",
		Status:      "completed",
		Output:      `{"content":[{"type":"text","text":"Sunny, 21°C"}]}`,
	}))

	msg := assistantMessage(t, o)
	assert.Equal(t, "Sunny, 21°C", msg.Text)
	assert.Contains(t, msg.ToolTags, "weather")
}

func TestRejectingToolApprovalCancelsTurn(t *testing.T) {
	transport := &stubTransport{}
	config := DefaultConfig()
	config.Servers = []ServerConfig{{Label: "github", URL: "https://mcp.example.com", RequireApproval: "always"}}
	o, _ := newTestOrchestrator(t, transport, config)
	sessionID := send(t, o, "open an issue")
	awaitRequests(t, transport, 1)

	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, events.NewOutputItemDone(events.Item{
		ID:          "mcpr_1",
		Type:        events.ItemTypeMCPApprovalRequest,
		Name:        "create_issue",
		ServerLabel: "github",
		Arguments:   `{"title":"Broken"}`,
	}))
	o.Dispatch(sessionID, completed("resp_1"))

	msg := assistantMessage(t, o)
	require.Len(t, msg.Approvals, 1)
	assert.True(t, strings.HasPrefix(msg.Text, "Approval required to run create_issue on github."))

	require.NoError(t, o.Reject(context.Background(), "mcpr_1", "not now"))

	msg = assistantMessage(t, o)
	assert.Equal(t, llms.ApprovalRejected, msg.Approvals[0].Status)
	assert.Empty(t, o.LastResponseID())
	assert.False(t, o.AwaitingAutomation())
	assert.Equal(t, []string{"Cancelled create_issue on github."}, systemNotices(o))
	assert.Equal(t, status.Idle, o.Status())
	assert.Equal(t, 1, transport.requestCount())

	assert.ErrorIs(t, o.Reject(context.Background(), "mcpr_1", ""), ErrApprovalResolved)
}

func TestApprovingToolApprovalContinuesResponse(t *testing.T) {
	transport := &stubTransport{}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	sessionID := send(t, o, "open an issue")
	awaitRequests(t, transport, 1)

	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, events.NewOutputItemDone(events.Item{ID: "mcpr_1", Type: events.ItemTypeMCPApprovalRequest, Name: "create_issue", ServerLabel: "github"}))
	o.Dispatch(sessionID, completed("resp_1"))

	require.NoError(t, o.Approve(context.Background(), "mcpr_1"))
	awaitRequests(t, transport, 2)

	followUp := transport.request(1)
	assert.Equal(t, llms.ResponseID("resp_1"), followUp.PreviousResponseID)
	require.Len(t, followUp.Input, 1)
	assert.Equal(t, "mcp_approval_response", followUp.Input[0].Type)
	require.NotNil(t, followUp.Input[0].Approve)
	assert.True(t, *followUp.Input[0].Approve)

	o.Dispatch(sessionID, events.NewResponseCreated("resp_2"))
	o.Dispatch(sessionID, events.NewTextDelta("msg_2", "Issue created."))
	assert.Equal(t, "Issue created.", assistantText(o))
}

func TestApprovalFollowUpReplaysReasoning(t *testing.T) {
	transport := &stubTransport{}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	sessionID := send(t, o, "open an issue")
	awaitRequests(t, transport, 1)

	approval := events.Item{ID: "mcpr_1", Type: events.ItemTypeMCPApprovalRequest, Name: "create_issue", ServerLabel: "github"}
	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, events.NewOutputItemDone(approval))
	o.Dispatch(sessionID, completed("resp_1", reasoningItem("rs_1"), approval))
	require.Equal(t, 1, o.reasoning.Len())

	require.NoError(t, o.Approve(context.Background(), "mcpr_1"))
	awaitRequests(t, transport, 2)

	followUp := transport.request(1)
	assert.Equal(t, llms.ResponseID("resp_1"), followUp.PreviousResponseID)
	require.Len(t, followUp.Input, 2)
	assert.Contains(t, string(followUp.Input[0].Raw), `"id":"rs_1"`)
	assert.Contains(t, string(followUp.Input[0].Raw), `"summary":[]`)
	assert.Equal(t, "mcp_approval_response", followUp.Input[1].Type)
	assert.Zero(t, o.reasoning.Len())
}

func TestFunctionCallOutputsContinueResponse(t *testing.T) {
	add := llms.NewTool("add", "Adds two numbers", func(_ context.Context, args struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (string, error) {
		return strings.Repeat("I", args.A+args.B), nil
	})

	transport := &stubTransport{}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig(), WithTools(add))
	sessionID := send(t, o, "add 1 and 2")
	awaitRequests(t, transport, 1)

	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, events.NewOutputItemAdded(events.Item{ID: "fc_1", Type: events.ItemTypeFunctionCall, CallID: "call_1", Name: "add"}))
	o.Dispatch(sessionID, events.NewFunctionCallArgumentsDelta("fc_1", `{"a":1,`))
	o.Dispatch(sessionID, events.NewFunctionCallArgumentsDelta("fc_1", `"b":2}`))
	o.Dispatch(sessionID, events.NewOutputItemDone(events.Item{ID: "fc_1", Type: events.ItemTypeFunctionCall, CallID: "call_1", Name: "add"}))
	o.Dispatch(sessionID, completed("resp_1"))

	awaitRequests(t, transport, 2)

	followUp := transport.request(1)
	assert.Equal(t, llms.ResponseID("resp_1"), followUp.PreviousResponseID)
	require.Len(t, followUp.Input, 1)
	assert.Equal(t, "function_call_output", followUp.Input[0].Type)
	assert.Equal(t, llms.CallID("call_1"), followUp.Input[0].CallID)
	assert.Equal(t, "III", followUp.Input[0].Output)
	assert.Contains(t, followUp.Tools[0].Name, "add")
}

func TestAutomationWaitLoopAborts(t *testing.T) {
	waitResponse := func(n int) *events.Response {
		id := "resp_" + strings.Repeat("n", n)
		return &events.Response{ID: id, Status: "completed", Output: []events.Item{{
			ID:     "cu_" + id,
			Type:   events.ItemTypeComputerCall,
			CallID: llms.CallID("call_" + id),
			Status: "completed",
			Action: &events.Action{Type: "wait"},
		}}}
	}
	transport := &creatingTransport{create: func(n int, _ llms.Request) (*events.Response, error) {
		return waitResponse(n + 2), nil
	}}
	transport.retrieved = map[llms.ResponseID]*events.Response{"resp_n": waitResponse(1)}

	executor := &stubExecutor{}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig(), WithAutomationExecutor(executor))
	sessionID := send(t, o, "wait for the page")

	first := waitResponse(1)
	o.Dispatch(sessionID, events.NewResponseCreated(first.ID))
	o.Dispatch(sessionID, events.NewOutputItemDone(first.Output[0]))
	o.Dispatch(sessionID, completed(first.ID, first.Output...))

	require.Eventually(t, func() bool { return len(systemNotices(o)) == 1 && o.Status() == status.Idle }, eventually, time.Millisecond)

	assert.Empty(t, o.LastResponseID())
	assert.False(t, o.AwaitingAutomation())
	assert.Equal(t, 3, executor.count())
	assert.Contains(t, systemNotices(o)[0], "kept waiting")
}

func TestAutomationSafetyCheckWaitsForApproval(t *testing.T) {
	click := events.Item{
		ID:                  "cu_1",
		Type:                events.ItemTypeComputerCall,
		CallID:              "call_1",
		Status:              "completed",
		Action:              &events.Action{Type: "click"},
		PendingSafetyChecks: []llms.SafetyCheck{{ID: "sc_1", Code: "malicious_instructions", Message: "The page asks for a password."}},
	}
	first := &events.Response{ID: "resp_1", Status: "completed", Output: []events.Item{reasoningItem("rs_1"), click}}

	transport := &creatingTransport{create: func(int, llms.Request) (*events.Response, error) {
		return &events.Response{ID: "resp_2", Status: "completed", Output: []events.Item{{
			ID:      "msg_2",
			Type:    events.ItemTypeMessage,
			Content: []events.OutputContent{{Type: "output_text", Text: "Clicked."}},
		}}}, nil
	}}
	transport.retrieved = map[llms.ResponseID]*events.Response{"resp_1": first}

	executor := &stubExecutor{}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig(), WithAutomationExecutor(executor))
	sessionID := send(t, o, "log in for me")

	o.Dispatch(sessionID, events.NewResponseCreated(first.ID))
	o.Dispatch(sessionID, events.NewOutputItemDone(click))
	o.Dispatch(sessionID, completed(first.ID, first.Output...))

	var approvalID string
	require.Eventually(t, func() bool {
		approvals := assistantMessage(t, o).Approvals
		if len(approvals) != 1 || o.Status() != status.Idle {
			return false
		}
		approvalID = approvals[0].ID
		return true
	}, eventually, time.Millisecond)

	assert.Equal(t, llms.ApprovalPending, assistantMessage(t, o).Approvals[0].Status)
	assert.Equal(t, llms.ResponseID("resp_1"), o.LastResponseID())
	assert.Zero(t, executor.count())
	assert.Zero(t, transport.createdCount())

	require.NoError(t, o.Approve(context.Background(), approvalID))
	require.Eventually(t, func() bool { return o.Status() == status.Done }, eventually, time.Millisecond)

	require.Equal(t, 1, transport.createdCount())
	followUp := transport.createdRequest(0)
	assert.Equal(t, llms.ResponseID("resp_1"), followUp.PreviousResponseID)
	require.Len(t, followUp.Input, 2)
	assert.Contains(t, string(followUp.Input[0].Raw), `"id":"rs_1"`)
	assert.Equal(t, "computer_call_output", followUp.Input[1].Type)
	require.Len(t, followUp.Input[1].AcknowledgedSafetyChecks, 1)
	assert.Equal(t, 1, executor.count())
	assert.Equal(t, "Clicked.", assistantText(o))
	assert.Equal(t, llms.ResponseID("resp_2"), o.LastResponseID())
	assert.Zero(t, o.reasoning.Len())
}

func TestAutomationUnavailableEndsTurn(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "click the button")

	call := events.Item{ID: "cu_1", Type: events.ItemTypeComputerCall, CallID: "call_1", Action: &events.Action{Type: "click"}}
	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, events.NewOutputItemDone(call))
	o.Dispatch(sessionID, completed("resp_1", call))

	assert.Equal(t, []string{automationUnavailableNotice}, systemNotices(o))
	assert.Empty(t, o.LastResponseID())
	assert.False(t, o.AwaitingAutomation())
}

func TestNonStreamingResponseUsesCreate(t *testing.T) {
	transport := &creatingTransport{create: func(int, llms.Request) (*events.Response, error) {
		return &events.Response{
			ID:     "resp_1",
			Status: "completed",
			Output: []events.Item{{
				ID:      "msg_1",
				Type:    events.ItemTypeMessage,
				Content: []events.OutputContent{{Type: "output_text", Text: "Done."}},
			}},
			Usage: &events.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		}, nil
	}}
	config := DefaultConfig()
	config.Streaming = false
	o, _ := newTestOrchestrator(t, transport, config)
	send(t, o, "finish")

	require.Eventually(t, func() bool { return o.Status() == status.Done }, eventually, time.Millisecond)

	msg := assistantMessage(t, o)
	assert.Equal(t, "Done.", msg.Text)
	assert.Equal(t, llms.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, msg.Usage)
	assert.Zero(t, transport.requestCount())
}

func TestMissingUsageIsEstimated(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "tell me something")

	o.Dispatch(sessionID, events.NewTextDelta("msg_1", "Something interesting happened today."))
	o.Dispatch(sessionID, completed("resp_1"))

	usage := assistantMessage(t, o).Usage
	assert.True(t, usage.Estimated)
	assert.Positive(t, usage.OutputTokens)
	assert.Equal(t, usage.InputTokens+usage.OutputTokens, usage.TotalTokens)
}

func TestIncompleteResponseAddsSingleNotice(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())
	sessionID := send(t, o, "write an essay")

	o.Dispatch(sessionID, events.NewTextDelta("msg_1", "Once upon a time."))
	o.Dispatch(sessionID, events.NewResponseIncomplete("resp_1", "max_output_tokens"))

	assert.Equal(t, []string{"The response was cut short (max_output_tokens)."}, systemNotices(o))
	assert.Equal(t, status.Done, o.Status())
}

func TestAnnotationFilesAreFetchedOnce(t *testing.T) {
	transport := &fetchingTransport{content: []byte("a,b\n1,2\n")}
	o, _ := newTestOrchestrator(t, transport, DefaultConfig())
	sessionID := send(t, o, "make a csv")

	annotation := events.Annotation{Type: "container_file_citation", ContainerID: "cntr_1", FileID: "cfile_1", Filename: "data.csv"}
	o.Dispatch(sessionID, events.NewAnnotationAdded("msg_1", annotation))
	o.Dispatch(sessionID, events.NewAnnotationAdded("msg_1", annotation))

	require.Eventually(t, func() bool {
		media := assistantMessage(t, o).Media
		return len(media) == 1 && len(media[0].Data) > 0
	}, eventually, time.Millisecond)
	assert.Equal(t, 1, transport.fetchCount())
	assert.Equal(t, llms.MediaKindFile, assistantMessage(t, o).Media[0].Kind)
}

func TestFailedPreflightSkipsServer(t *testing.T) {
	transport := &stubTransport{}
	config := DefaultConfig()
	config.Servers = []ServerConfig{
		{Label: "github", URL: "https://github.example.com", Token: "secret"},
		{Label: "notes", URL: "https://notes.example.com"},
	}
	prober := ProberFunc(func(_ context.Context, server ServerConfig) error {
		if server.Label == "github" {
			return errors.New("401 Unauthorized")
		}
		return nil
	})
	o, _ := newTestOrchestrator(t, transport, config, WithProber(prober))
	send(t, o, "hello")

	awaitRequests(t, transport, 1)
	var labels []string
	for _, tool := range transport.request(0).Tools {
		labels = append(labels, tool.ServerLabel)
	}
	assert.Equal(t, []string{"notes"}, labels)
	assert.Equal(t, []string{"Skipping github: 401 Unauthorized"}, systemNotices(o))
}

func TestObserversReceiveUpdates(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []string
	)
	observer := status.ObserverFunc(func(update status.Update) {
		if update.Kind != status.UpdateStatus {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, update.Status)
	})

	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig(), WithObserver(observer))
	sessionID := send(t, o, "hello")
	o.Dispatch(sessionID, events.NewResponseCreated("resp_1"))
	o.Dispatch(sessionID, events.NewTextDelta("msg_1", "Hi."))
	o.Dispatch(sessionID, completed("resp_1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"connecting", "thinking", "streaming", "done"}, statuses)
}

func TestSendMessageRejectsEmptyInput(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubTransport{}, DefaultConfig())

	_, err := o.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
