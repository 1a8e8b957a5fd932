package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-relay/core/automation"
	"github.com/koscakluka/ema-relay/core/conversations"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/preflight"
	"github.com/koscakluka/ema-relay/core/reasoning"
	"github.com/koscakluka/ema-relay/core/status"
	"github.com/koscakluka/ema-relay/core/tools"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator drives conversation turns against a streaming model backend.
// All turn state is owned by a single lane; public methods submit work to it.
type Orchestrator struct {
	config      Config
	transport   Transport
	store       conversations.Store
	executor    automation.Executor
	preflight   preflight.Store
	prober      Prober
	tools       []llms.Tool
	observers   []status.Observer
	baseContext context.Context

	afterFunc func(time.Duration, func()) timerHandle
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time

	lane      *eventPlayer
	handlers  map[events.Kind]eventHandler
	reasoning *reasoning.Cache
	registry  *tools.Registry
	files     *fileCache

	automation *automation.Controller
	host       *automationHost

	closeOnce sync.Once

	// Owned by the lane.
	session        *turnSession
	messages       []llms.Message
	lastResponseID llms.ResponseID
	status         status.Status
	activity       *status.ActivityLog
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		config:      DefaultConfig(),
		store:       conversations.NewMemoryStore(),
		preflight:   preflight.NewMemoryStore(),
		baseContext: context.Background(),
		afterFunc:   realAfterFunc,
		sleep:       sleepContext,
		now:         time.Now,
		lane:        newEventPlayer(),
		reasoning:   reasoning.NewCache(),
		status:      status.Idle,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.handlers = newEventHandlers()
	o.registry = tools.NewRegistry(o.preflight)
	o.activity = status.NewActivityLog(o.config.ActivityLogSize)
	o.files = newFileCache(o.config.AnnotationCacheSize)
	o.restore()

	if o.executor != nil {
		o.host = &automationHost{o: o}
		o.automation = automation.NewController(
			&automationBackend{o: o},
			o.executor,
			o.host,
			automation.WithMaxIterations(o.config.Automation.MaxIterations),
			automation.WithWaitThreshold(o.config.Automation.WaitThreshold),
		)
	}

	o.lane.Start()
	return o
}

// restore loads the persisted conversation before the lane starts.
func (o *Orchestrator) restore() {
	messages, err := o.store.Messages(o.baseContext)
	if err != nil {
		o.recordError(o.baseContext, fmt.Errorf("failed to load conversation: %w", err))
	}
	o.messages = messages

	id, err := o.store.ResponseID(o.baseContext)
	if err != nil {
		o.recordError(o.baseContext, fmt.Errorf("failed to load response id: %w", err))
	}
	o.lastResponseID = id
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.lane.call(func() {
			if s := o.session; s != nil {
				s.deltas.Flush()
				s.shutdown()
				o.commit()
			}
		})
		o.lane.Stop()
		o.lane.AwaitDone()
	})
}

func (o *Orchestrator) Status() status.Status {
	current := status.Idle
	o.lane.call(func() { current = o.status })
	return current
}

func (o *Orchestrator) Activity() []string {
	var lines []string
	o.lane.call(func() { lines = o.activity.Lines() })
	return lines
}

// Messages returns a snapshot of the conversation.
func (o *Orchestrator) Messages() []llms.Message {
	var messages []llms.Message
	o.lane.call(func() {
		snapshot, err := conversations.Snapshot(o.messages)
		if err != nil {
			o.recordError(o.baseContext, err)
		}
		messages = snapshot
	})
	return messages
}

func (o *Orchestrator) LastResponseID() llms.ResponseID {
	var id llms.ResponseID
	o.lane.call(func() { id = o.lastResponseID })
	return id
}

func (o *Orchestrator) AwaitingAutomation() bool {
	awaiting := false
	o.lane.call(func() { awaiting = o.session != nil && o.session.awaitingAutomationOutput })
	return awaiting
}

func (o *Orchestrator) message(id llms.MessageID) *llms.Message {
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == id {
			return &o.messages[i]
		}
	}
	return nil
}

func (o *Orchestrator) setStatus(next status.Status) {
	if o.status == next {
		return
	}
	o.status = next
	o.publish(status.Update{Kind: status.UpdateStatus, Status: next.String()})
}

func (o *Orchestrator) addActivity(line string) {
	if !o.activity.Append(line) {
		return
	}
	o.publish(status.Update{Kind: status.UpdateActivity, Line: o.activity.Last()})
}

// setLastResponseID moves the conversation pivot and drops reasoning cached
// for the superseded response.
func (o *Orchestrator) setLastResponseID(id llms.ResponseID) {
	if o.lastResponseID == id {
		return
	}
	o.reasoning.Invalidate(o.lastResponseID, id)
	o.lastResponseID = id
	if err := o.store.SetResponseID(o.baseContext, id); err != nil {
		o.recordError(o.baseContext, fmt.Errorf("failed to persist response id: %w", err))
	}
}

// commit persists the conversation and publishes the active message.
func (o *Orchestrator) commit() {
	if err := o.store.ReplaceMessages(o.baseContext, o.messages); err != nil {
		o.recordError(o.baseContext, fmt.Errorf("failed to persist conversation: %w", err))
	}

	s := o.session
	if s == nil {
		return
	}
	if msg := o.message(s.messageID); msg != nil {
		snapshot, err := conversations.Snapshot([]llms.Message{*msg})
		if err == nil && len(snapshot) == 1 {
			o.publish(status.Update{Kind: status.UpdateMessage, Message: &snapshot[0]})
		}
	}
}

func (o *Orchestrator) publish(update status.Update) {
	if update.At.IsZero() {
		update.At = o.now()
	}
	if update.SessionID == "" && o.session != nil {
		update.SessionID = o.session.id
	}
	for _, observer := range o.observers {
		observer.Observe(update)
	}
}

// appendNotice adds a system message visible to the user. A notice is shown
// at most once per turn.
func (o *Orchestrator) appendNotice(s *turnSession, text string) {
	if text == "" {
		return
	}
	if s != nil {
		if _, shown := s.notices[text]; shown {
			return
		}
		s.notices[text] = struct{}{}
	}

	o.messages = append(o.messages, llms.NewMessage(llms.MessageRoleSystem, text))
	o.addActivity(text)
	o.commit()
}

func (o *Orchestrator) recordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error(err.Error())
}
