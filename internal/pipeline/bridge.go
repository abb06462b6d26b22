// bridge.go: scheduling bridge between caller goroutines and the pipeline's
// single consumer. Submissions from any goroutine become jobs on a queue
// consumed by one dedicated worker; a handle lets the submitter await the
// result. The consumer is restarted transparently if it has stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Common errors returned by bridge operations
var (
	ErrShuttingDown  = errors.New("pipeline is shutting down")
	ErrWorkCanceled  = errors.New("scheduled work was canceled")
	ErrResultTimeout = errors.New("timed out waiting for result")
)

const (
	bridgeQueueSize   = 256
	enqueueWait       = 5 * time.Second
	shutdownDrainWait = 1 * time.Second
)

// UnitOfWork is one schedulable operation. It must honour ctx cancellation
// at its blocking points.
type UnitOfWork func(ctx context.Context) (any, error)

type outcome struct {
	value any
	err   error
}

// Handle lets the submitter await the result of a scheduled unit of work.
type Handle struct {
	done chan outcome
}

// Result blocks until the unit completes or the timeout expires.
func (h *Handle) Result(timeout time.Duration) (any, error) {
	select {
	case out := <-h.done:
		return out.value, out.err
	case <-time.After(timeout):
		return nil, ErrResultTimeout
	}
}

type bridgeJob struct {
	work   UnitOfWork
	handle *Handle
}

// Bridge owns the consumer goroutine and its submission queue. All consumer
// lifecycle state is guarded by mu; every consumer generation gets its own
// jobs and done channels, so a stale generation can neither be mistaken for
// the current one nor clobber its state.
type Bridge struct {
	mu           sync.Mutex
	jobs         chan bridgeJob
	cancel       context.CancelFunc
	done         chan struct{}
	shuttingDown bool
}

// NewBridge creates a bridge. The consumer starts lazily on first Submit.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Submit schedules a unit of work and returns a handle to await its result.
// Returns nil while a shutdown is in progress. If the consumer has stopped
// (first use, or a previous shutdown) it is restarted transparently, which
// also clears the shutting-down flag.
func (b *Bridge) Submit(work UnitOfWork) *Handle {
	b.mu.Lock()
	if b.shuttingDown {
		if b.consumerAlive() {
			b.mu.Unlock()
			getLogger().Info("ignoring work submission, shutdown in progress")
			return nil
		}
		// Consumer already gone: recover through the restart path.
		b.shuttingDown = false
	}
	if !b.consumerAlive() {
		b.startConsumer()
	}
	jobs := b.jobs
	b.mu.Unlock()

	handle := &Handle{done: make(chan outcome, 1)}
	select {
	case jobs <- bridgeJob{work: work, handle: handle}:
		return handle
	default:
		// Queue full: run the admission wait off the caller's fast path.
		go func() {
			select {
			case jobs <- bridgeJob{work: work, handle: handle}:
			case <-time.After(enqueueWait):
				handle.done <- outcome{err: ErrWorkCanceled}
			}
		}()
		return handle
	}
}

// consumerAlive reports whether the current consumer generation is still
// running. Callers must hold mu.
func (b *Bridge) consumerAlive() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// startConsumer spawns a new consumer generation. Callers must hold mu, so a
// stopped bridge can never grow more than one consumer.
func (b *Bridge) startConsumer() {
	getLogger().Info("starting background consumer")
	ctx, cancel := context.WithCancel(context.Background())
	b.jobs = make(chan bridgeJob, bridgeQueueSize)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.consume(ctx, b.jobs, b.done)
}

// consume executes jobs sequentially until the bridge context is canceled.
// Queued jobs found after cancellation are failed, never silently completed.
func (b *Bridge) consume(ctx context.Context, jobs chan bridgeJob, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case job := <-jobs:
					job.handle.done <- outcome{err: ErrWorkCanceled}
				default:
					return
				}
			}
		case job := <-jobs:
			value, err := runUnit(ctx, job.work)
			job.handle.done <- outcome{value: value, err: err}
		}
	}
}

// runUnit runs one unit of work, converting panics into errors so a bad
// unit cannot kill the consumer.
func runUnit(ctx context.Context, work UnitOfWork) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()
	if ctx.Err() != nil {
		return nil, ErrWorkCanceled
	}
	return work(ctx)
}

// Shutdown cancels all in-flight and queued work and stops the consumer.
// Subsequent Submit calls return nil until the next recovery restart.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	b.shuttingDown = true
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	getLogger().Info("shutdown requested, canceling scheduled work")
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(shutdownDrainWait):
			getLogger().Warn("consumer did not drain in time")
		}
	}
	getLogger().Info("shutdown complete")
}

// IsRunning reports whether the consumer goroutine is alive.
func (b *Bridge) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumerAlive()
}
