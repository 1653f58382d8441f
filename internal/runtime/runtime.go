// Package runtime wires the store, work queue, registry, ambient
// execution context, and dispatcher into a single value, and exposes the
// Run/WaitFor surface user programs and cmd/taskrt drive. Submitting a
// task's first, top-level invocation goes through that task's own
// task.Def.Submit rather than anything in this package, so each task's
// own configured IDGenerator is honored.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/relaydispatch/taskrt/internal/config"
	"github.com/relaydispatch/taskrt/internal/core"
	"github.com/relaydispatch/taskrt/internal/dispatcher"
	"github.com/relaydispatch/taskrt/internal/execctx"
	"github.com/relaydispatch/taskrt/internal/registry"
	"github.com/relaydispatch/taskrt/internal/store"
	"github.com/relaydispatch/taskrt/internal/task"
	"github.com/relaydispatch/taskrt/internal/workqueue"
)

// Runtime bundles every shared component a registered task needs and runs
// the dispatcher loop against them.
type Runtime struct {
	store      *store.Store
	queue      *workqueue.Queue
	registry   *registry.Registry
	execCtx    *execctx.Context
	dispatcher *dispatcher.Dispatcher
	log        *slog.Logger

	defaultRetries int
}

// Option configures optional Runtime construction behavior.
type Option func(*options)

type options struct {
	hooks dispatcher.Hooks
}

// WithHooks installs dispatcher lifecycle hooks, letting a caller observe
// every dispatch (e.g. for metrics or tracing) without reaching into the
// dispatcher package directly. Default is dispatcher.NopHooks.
func WithHooks(h dispatcher.Hooks) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = h
		}
	}
}

// New builds a Runtime from cfg. Callers then call task.Register(rt.Deps(),
// ...) for each task before calling Run.
func New(cfg config.Config, opts ...Option) *Runtime {
	o := &options{hooks: dispatcher.NopHooks{}}
	for _, opt := range opts {
		opt(o)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	s := store.New(store.WithLogger(log))
	q := workqueue.New(cfg.QueueCapacity)
	r := registry.New()
	ec := execctx.New()

	d := dispatcher.New(q, s,
		dispatcher.WithWorkers(cfg.Workers),
		dispatcher.WithLogger(log),
		dispatcher.WithHooks(o.hooks),
	)

	return &Runtime{
		store:          s,
		queue:          q,
		registry:       r,
		execCtx:        ec,
		dispatcher:     d,
		log:            log,
		defaultRetries: cfg.DefaultRetries,
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Deps returns the shared dependency bundle task.Register needs.
func (rt *Runtime) Deps() task.Deps {
	return task.Deps{
		Store:    rt.store,
		Queue:    rt.queue,
		Registry: rt.registry,
		ExecCtx:  rt.execCtx,
		Log:      rt.log,
	}
}

// DefaultRetries is the retry budget a task registration should use when
// it does not specify its own.
func (rt *Runtime) DefaultRetries() int { return rt.defaultRetries }

// Logger returns the runtime's shared structured logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.log }

// Run starts the dispatcher and blocks until ctx is cancelled, draining
// in-flight work before returning.
func (rt *Runtime) Run(ctx context.Context) error {
	return rt.dispatcher.Run(ctx, func(ctx context.Context, id core.TaskID) error {
		return task.Dispatch(ctx, rt.Deps(), id)
	})
}

// Stop requests the dispatcher to exit; Run still drains in-flight work.
func (rt *Runtime) Stop() { rt.dispatcher.Stop() }

// Close shuts down the work queue, unblocking any goroutine parked in
// Pop/Put.
func (rt *Runtime) Close() { rt.queue.Close() }

// WaitFor blocks until id reaches a terminal status or ctx is done, then
// returns its canonical result (on SUCCESS) or a *core.TaskFailedError (on
// FAILED).
func WaitFor(ctx context.Context, rt *Runtime, id core.TaskID) (json.RawMessage, error) {
	rec, exists := rt.store.Get(id)
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidTaskID, id)
	}

	select {
	case <-rec.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rec.Lock()
	defer rec.Unlock()
	if rec.Status() == core.StatusSuccess {
		return rec.Result(), nil
	}
	return nil, &core.TaskFailedError{TaskID: string(id), Inner: fmt.Errorf("%s", rec.ErrMsg())}
}
