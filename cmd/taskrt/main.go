// Command taskrt is the process entry point: it wires a runtime.Runtime,
// registers the demo task family, submits a handful of top-level
// invocations, and runs the dispatcher until every submitted task reaches
// a terminal status or the process receives an interrupt.
//
// Grounded on original_source's v3/main.py (submit a batch of top-level
// invocations, then run the worker loop) and on the surrounding
// cmd/scriptweaver/main.go texture (main stays a thin, deterministic
// boundary; errors are printed and mapped to an exit code rather than
// panicking).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/relaydispatch/taskrt/examples/demotasks"
	"github.com/relaydispatch/taskrt/internal/config"
	"github.com/relaydispatch/taskrt/internal/core"
	"github.com/relaydispatch/taskrt/internal/dispatcher"
	"github.com/relaydispatch/taskrt/internal/runtime"
)

// dispatchCounter is a dispatcher.Hooks implementation that counts every
// dispatch attempt and its outcome, so main can report how much work the
// dispatcher actually performed on top of the top-level ids it waited for
// (nested calls dispatch too, and never surface in the ids slice).
type dispatchCounter struct {
	dispatched atomic.Int64
	failed     atomic.Int64
}

func (c *dispatchCounter) BeforeDispatch(context.Context, core.TaskID) {
	c.dispatched.Add(1)
}

func (c *dispatchCounter) AfterDispatch(_ context.Context, _ core.TaskID, err error) {
	if err != nil {
		c.failed.Add(1)
	}
}

var _ dispatcher.Hooks = (*dispatchCounter)(nil)

const (
	exitOK = iota
	exitConfigError
	exitRegistrationError
	exitRunError
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	counter := &dispatchCounter{}
	rt := runtime.New(cfg, runtime.WithHooks(counter))

	tasks, err := demotasks.Register(rt.Deps(), rt.DefaultRetries())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistrationError
	}

	var ids []core.TaskID
	for i := 0; i < 10; i++ {
		serialID, err := tasks.AddTwoRandomValuesSerial.Submit(ctx, struct{}{})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitRunError
		}
		ids = append(ids, serialID)

		parallelID, err := tasks.AddTwoRandomValuesParallel.Submit(ctx, struct{}{})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitRunError
		}
		ids = append(ids, parallelID)
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.Run(dispatchCtx); err != nil && !errors.Is(err, context.Canceled) {
			rt.Logger().Error("dispatcher stopped", "error", err)
		}
	}()

	exitCode := exitOK
	for _, id := range ids {
		result, err := runtime.WaitFor(ctx, rt, id)
		if err != nil {
			rt.Logger().Error("task failed", "task_id", id, "error", err)
			exitCode = exitRunError
			continue
		}
		rt.Logger().Info("task succeeded", "task_id", id, "result", string(result))
	}

	cancelDispatch()
	rt.Close()
	wg.Wait()

	rt.Logger().Info("dispatch summary",
		"dispatched", counter.dispatched.Load(),
		"failed", counter.failed.Load(),
	)

	return exitCode
}
