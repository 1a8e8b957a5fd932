package orchestration

import (
	"context"
	"iter"
	"time"

	"github.com/koscakluka/ema-relay/core/automation"
	"github.com/koscakluka/ema-relay/core/conversations"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/preflight"
	"github.com/koscakluka/ema-relay/core/status"
)

type OrchestratorOption func(*Orchestrator)

// Transport streams responses from the model backend.
type Transport interface {
	Stream(ctx context.Context, request llms.Request) iter.Seq2[events.Event, error]
	Retrieve(ctx context.Context, id llms.ResponseID) (*events.Response, error)
}

// ResponseCreator is implemented by transports that can create a response
// without streaming it.
type ResponseCreator interface {
	Create(ctx context.Context, request llms.Request) (*events.Response, error)
}

// FileFetcher is implemented by transports that can download files cited in
// a response.
type FileFetcher interface {
	FetchFile(ctx context.Context, containerID, fileID string) ([]byte, error)
}

func WithTransport(transport Transport) OrchestratorOption {
	return func(o *Orchestrator) {
		o.transport = transport
	}
}

func WithConfig(config Config) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config = config.withDefaults()
	}
}

func WithConversationStore(store conversations.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithAutomationExecutor enables computer-use automation against the given
// surface.
func WithAutomationExecutor(executor automation.Executor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.executor = executor
	}
}

func WithPreflightStore(store preflight.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.preflight = store
		}
	}
}

// Prober validates a tool server before it is offered to the model.
type Prober interface {
	Probe(ctx context.Context, server ServerConfig) error
}

type ProberFunc func(ctx context.Context, server ServerConfig) error

func (f ProberFunc) Probe(ctx context.Context, server ServerConfig) error {
	return f(ctx, server)
}

func WithProber(prober Prober) OrchestratorOption {
	return func(o *Orchestrator) {
		o.prober = prober
	}
}

func WithTools(tools ...llms.Tool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tools = append(o.tools, tools...)
	}
}

func WithObserver(observers ...status.Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		for _, observer := range observers {
			if observer != nil {
				o.observers = append(o.observers, observer)
			}
		}
	}
}

// WithBaseContext sets the context every turn derives from.
func WithBaseContext(ctx context.Context) OrchestratorOption {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.baseContext = ctx
		}
	}
}

type timerHandle interface {
	Stop() bool
}

// withClock replaces the timer and sleep primitives; tests use it to control
// debounce and backoff.
func withClock(afterFunc func(time.Duration, func()) timerHandle, sleep func(context.Context, time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) {
		if afterFunc != nil {
			o.afterFunc = afterFunc
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}
