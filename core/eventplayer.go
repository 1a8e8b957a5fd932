package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const laneQueueCapacity = 64

// eventPlayer is the single coordination lane. Every mutation of session
// state runs as a job on its goroutine, in submission order.
type eventPlayer struct {
	queue   chan laneJob
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

type laneJob struct {
	run      func()
	queuedAt time.Time
}

func newEventPlayer() *eventPlayer {
	return &eventPlayer{
		queue:   make(chan laneJob, laneQueueCapacity),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (loop *eventPlayer) CanIngest() bool {
	if loop == nil {
		return false
	}

	select {
	case <-loop.closeCh:
		return false
	default:
		return true
	}
}

func (loop *eventPlayer) Start() {
	if loop == nil {
		return
	}

	loop.startOnce.Do(func() {
		loop.started.Store(true)
		go func() {
			defer close(loop.done)
			for {
				select {
				case <-loop.closeCh:
					return
				case job := <-loop.queue:
					loop.process(job)
				}
			}
		}()
	})
}

func (loop *eventPlayer) Stop() {
	if loop == nil {
		return
	}

	loop.endOnce.Do(func() { close(loop.closeCh) })
}

func (loop *eventPlayer) AwaitDone() {
	if loop == nil {
		return
	}

	if loop.started.Load() {
		<-loop.done
	}
}

// post queues fn without waiting for it. It must not be called from the lane
// itself when the queue may be full.
func (loop *eventPlayer) post(fn func()) bool {
	if loop == nil || fn == nil || !loop.CanIngest() {
		return false
	}

	select {
	case <-loop.closeCh:
		return false
	case loop.queue <- laneJob{run: fn, queuedAt: time.Now()}:
		return true
	}
}

// call queues fn and blocks until it ran. Never call it from the lane.
func (loop *eventPlayer) call(fn func()) bool {
	finished := make(chan struct{})
	if !loop.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-loop.done:
		return false
	}
}

func (loop *eventPlayer) process(job laneJob) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error(fmt.Sprintf("lane job panicked: %v", recovered))
		}
	}()

	if waited := time.Since(job.queuedAt); waited > time.Second {
		_, span := tracer.Start(context.Background(), "slow lane job")
		span.SetAttributes(attribute.Float64("lane.queued_time", waited.Seconds()))
		span.End()
	}

	job.run()
}
