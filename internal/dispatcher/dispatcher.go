// Package dispatcher implements the worker pool: a fixed number of
// goroutines popping task ids off the work queue and invoking whichever
// registered task owns that id. Its shape follows the worker-pool
// conventions common to the surrounding examples (functional options,
// a semaphore channel bounding concurrency, sync.WaitGroup for drain,
// atomic.Bool for the running flag, context cancellation, panic recovery
// around each unit of work) rather than a precomputed-graph executor,
// since the queue this pool drains grows dynamically as tasks run rather
// than being resolved up front.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/relaydispatch/taskrt/internal/core"
	"github.com/relaydispatch/taskrt/internal/store"
	"github.com/relaydispatch/taskrt/internal/workqueue"
)

// Handler invokes whichever task owns id; it is runtime.Runtime's
// entrypoint into the task package's dispatcher-entered execution path,
// kept as a plain function type here so this package has no import-cycle
// dependency on the generic task package.
type Handler func(ctx context.Context, id core.TaskID) error

// Hooks lets callers observe dispatch events around each unit of work.
// Every method has a no-op default (see NopHooks) so callers only
// implement what they need.
type Hooks interface {
	BeforeDispatch(ctx context.Context, id core.TaskID)
	AfterDispatch(ctx context.Context, id core.TaskID, err error)
}

// NopHooks is the zero-cost default Hooks implementation.
type NopHooks struct{}

func (NopHooks) BeforeDispatch(context.Context, core.TaskID)      {}
func (NopHooks) AfterDispatch(context.Context, core.TaskID, error) {}

// Dispatcher is a fixed-size worker pool draining a workqueue.Queue.
type Dispatcher struct {
	queue   *workqueue.Queue
	store   *store.Store
	workers int
	log     *slog.Logger
	hooks   Hooks

	sem chan struct{}
	wg  sync.WaitGroup

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent worker goroutines. Default 1.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger overrides the default discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithHooks installs lifecycle hooks. Default NopHooks.
func WithHooks(h Hooks) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.hooks = h
		}
	}
}

// New creates a Dispatcher that pops from q; the handler invoked for each
// id is supplied to Run.
func New(q *workqueue.Queue, s *store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   q,
		store:   s,
		workers: 1,
		log:     slog.New(slog.DiscardHandler),
		hooks:   NopHooks{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = make(chan struct{}, d.workers)
	return d
}

// Run starts the worker pool and blocks until ctx is cancelled or Stop is
// called, at which point it waits (drains) for in-flight tasks before
// returning. handle is typically the closure runtime.Runtime.Run installs,
// which calls task.Dispatch; that looks up the registry.Invoker for the
// popped id's (name, version) and calls it.
func (d *Dispatcher) Run(ctx context.Context, handle Handler) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher: already running")
	}
	defer d.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	for {
		id, ok := d.queue.Pop(ctx)
		if !ok {
			break
		}

		d.sem <- struct{}{}
		d.wg.Add(1)
		go func(id core.TaskID) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.invoke(ctx, id, handle)
		}(id)
	}

	d.wg.Wait()
	return ctx.Err()
}

// invoke runs handle for a single popped id, recovering from any panic in
// user task code so one bad task body never brings the dispatcher down.
func (d *Dispatcher) invoke(ctx context.Context, id core.TaskID, handle Handler) {
	d.hooks.BeforeDispatch(ctx, id)

	err := func() (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				retErr = fmt.Errorf("dispatcher: panic invoking task %s: %v", id, r)
			}
		}()
		return handle(ctx, id)
	}()

	if err != nil {
		d.log.Error("dispatch error", "task_id", id, "error", err)
	}
	d.hooks.AfterDispatch(ctx, id, err)
}

// Stop requests the run loop to exit. It is idempotent; Run still drains
// in-flight work before returning.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}
