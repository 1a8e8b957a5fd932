package orchestration

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-relay/core/automation"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
)

// stubTransport replays one scripted stream per request. Requests beyond the
// scripts stay open until cancelled so tests can dispatch events by hand.
type stubTransport struct {
	mu        sync.Mutex
	requests  []llms.Request
	scripts   [][]events.Event
	retrieved map[llms.ResponseID]*events.Response
}

func (t *stubTransport) Stream(ctx context.Context, request llms.Request) iter.Seq2[events.Event, error] {
	t.mu.Lock()
	n := len(t.requests)
	t.requests = append(t.requests, request)
	var script []events.Event
	scripted := n < len(t.scripts)
	if scripted {
		script = t.scripts[n]
	}
	t.mu.Unlock()

	return func(yield func(events.Event, error) bool) {
		if !scripted {
			<-ctx.Done()
			return
		}
		for _, event := range script {
			if !yield(event, nil) {
				return
			}
		}
	}
}

func (t *stubTransport) Retrieve(_ context.Context, id llms.ResponseID) (*events.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if response, ok := t.retrieved[id]; ok {
		return response, nil
	}
	return &events.Response{ID: string(id), Status: "completed"}, nil
}

func (t *stubTransport) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *stubTransport) request(i int) llms.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[i]
}

// creatingTransport also answers non-streamed requests.
type creatingTransport struct {
	stubTransport
	create func(n int, request llms.Request) (*events.Response, error)

	createMu sync.Mutex
	created  []llms.Request
}

func (t *creatingTransport) Create(_ context.Context, request llms.Request) (*events.Response, error) {
	t.createMu.Lock()
	n := len(t.created)
	t.created = append(t.created, request)
	t.createMu.Unlock()
	return t.create(n, request)
}

func (t *creatingTransport) createdRequest(i int) llms.Request {
	t.createMu.Lock()
	defer t.createMu.Unlock()
	return t.created[i]
}

func (t *creatingTransport) createdCount() int {
	t.createMu.Lock()
	defer t.createMu.Unlock()
	return len(t.created)
}

type fetchingTransport struct {
	stubTransport
	mu      sync.Mutex
	fetches int
	content []byte
}

func (t *fetchingTransport) FetchFile(_ context.Context, _, _ string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetches++
	return t.content, nil
}

func (t *fetchingTransport) fetchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetches
}

type manualTimer struct {
	clock *manualClock
	fn    func()
	fired bool
	stop  bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.fired && !t.stop
	t.stop = true
	return wasActive
}

// manualClock fires debounce timers only when told to.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) timerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *manualClock) FireAll() {
	c.mu.Lock()
	var due []func()
	for _, timer := range c.timers {
		if !timer.fired && !timer.stop {
			timer.fired = true
			due = append(due, timer.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func immediateSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type stubExecutor struct {
	mu      sync.Mutex
	actions []string
}

func (e *stubExecutor) Execute(_ context.Context, action events.Action) (automation.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = append(e.actions, action.Type)
	return automation.Result{Screenshot: []byte("png")}, nil
}

func (e *stubExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actions)
}

func (e *stubExecutor) Navigate(_ context.Context, url string) (automation.Result, error) {
	return automation.Result{Screenshot: []byte("png"), URL: url}, nil
}

func (e *stubExecutor) CurrentURL(context.Context) (string, error) {
	return "https://example.com", nil
}

func newTestOrchestrator(t *testing.T, transport Transport, config Config, opts ...OrchestratorOption) (*Orchestrator, *manualClock) {
	t.Helper()
	clock := &manualClock{}
	opts = append([]OrchestratorOption{
		WithTransport(transport),
		WithConfig(config),
		withClock(clock.AfterFunc, immediateSleep),
	}, opts...)
	o := NewOrchestrator(opts...)
	t.Cleanup(o.Close)
	return o, clock
}

func send(t *testing.T, o *Orchestrator, text string) llms.SessionID {
	t.Helper()
	sessionID, err := o.SendMessage(context.Background(), text)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	return sessionID
}

func assistantText(o *Orchestrator) string {
	messages := o.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.MessageRoleAssistant {
			return messages[i].Text
		}
	}
	return ""
}

func assistantMessage(t *testing.T, o *Orchestrator) llms.Message {
	t.Helper()
	messages := o.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.MessageRoleAssistant {
			return messages[i]
		}
	}
	t.Fatalf("no assistant message")
	return llms.Message{}
}

func systemNotices(o *Orchestrator) []string {
	var notices []string
	for _, message := range o.Messages() {
		if message.Role == llms.MessageRoleSystem {
			notices = append(notices, message.Text)
		}
	}
	return notices
}

func reasoningItem(id string) events.Item {
	encrypted := "enc_" + id
	return events.Item{ID: id, Type: events.ItemTypeReasoning, EncryptedContent: &encrypted}
}

func completed(id string, output ...events.Item) events.Event {
	return events.NewResponseCompleted(events.Response{ID: id, Status: "completed", Output: output})
}
