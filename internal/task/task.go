// Package task implements the task wrapper / re-entrancy engine,
// the heart of the runtime: it turns an ordinary Go function into an
// idempotent, suspend-resume unit backed by the store, the queue, and the
// registry.
//
// Go has no exception unwinding in the Python sense, so a suspended task
// is modeled as an explicit sentinel error (core.ErrSuspend) returned
// from Call, rather than a panic caught further up the stack — see
// DESIGN.md for the reasoning. This preserves the deterministic-replay
// model intact.
//
// Two entry points exist, for the runtime's two dispatch modes:
//   - Def.Call, used by ordinary Go code (either top-level, or nested
//     inside a running task body) — Mode 1 when a parent is ambient,
//     otherwise a top-level submission.
//   - the package-level Dispatch function, used by the dispatcher when it
//     pops a task id off the queue — Mode 2. Dispatch is not generic: by
//     the time a task reaches the queue its name/version/arguments are
//     already resolved in the store, so it only needs the type-erased
//     registry.Invoker, never the typed Def that created it.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaydispatch/taskrt/internal/core"
	"github.com/relaydispatch/taskrt/internal/execctx"
	"github.com/relaydispatch/taskrt/internal/registry"
	"github.com/relaydispatch/taskrt/internal/store"
	"github.com/relaydispatch/taskrt/internal/workqueue"
)

// IDGenerator computes a task id for a call, given the fully resolved name,
// version, parent (if any), and canonical argument data. The default
// (DefaultIDGenerator) is core.ComputeID; a top-level task may opt into a
// random id (e.g. uuid.New().String()) when semantics require a fresh run
// per invocation, matching original_source's
// `@async_task(id_generator=lambda *a, **k: str(uuid.uuid4()))`.
type IDGenerator func(name, version string, parentID core.TaskID, hasParent bool, data json.RawMessage) core.TaskID

// DefaultIDGenerator is the deterministic content hash of name, version,
// parent id, and canonical arguments.
func DefaultIDGenerator(name, version string, parentID core.TaskID, hasParent bool, data json.RawMessage) core.TaskID {
	return core.ComputeID(name, version, parentID, hasParent, data)
}

// Deps bundles the shared runtime components the wrapper needs. A
// runtime.Runtime constructs one Deps value and threads it into every
// Register call and into Dispatch; nothing here is a package-level
// global.
type Deps struct {
	Store    *store.Store
	Queue    *workqueue.Queue
	Registry *registry.Registry
	ExecCtx  *execctx.Context
	Log      *slog.Logger
}

// Options configures a single registered task.
type Options struct {
	// Name defaults to "", in which case Register requires an explicit
	// name (Go has no implicit fully-qualified-symbol introspection the
	// way Python's func.__qualname__ gives original_source's
	// full_function_name).
	Name string
	// Version, similarly, is required: Register rejects an empty Version.
	// No default is derived from the body's content.
	Version string
	// Retries is the number of additional attempts after a non-TaskFailed,
	// non-Suspend error.
	Retries int
	// IDGenerator overrides the default deterministic id computation.
	IDGenerator IDGenerator
}

// Def is the typed handle returned by Register, analogous to the callable
// original_source's @async_task decorator produces: user code calls
// Def.Call(args) exactly like an ordinary function.
type Def[Args, Result any] struct {
	deps    Deps
	name    string
	version string
	retries int
	idGen   IDGenerator
}

// Register binds body under (opts.Name, opts.Version) in deps.Registry and
// returns a typed Def for calling it. body is
// wrapped into a type-erased registry.Invoker, the boundary Dispatch
// operates on.
func Register[Args, Result any](deps Deps, opts Options, body func(ctx context.Context, args Args) (Result, error)) (*Def[Args, Result], error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("task: Name is required")
	}
	if opts.Version == "" {
		return nil, fmt.Errorf("task: Version is required")
	}
	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = DefaultIDGenerator
	}

	d := &Def[Args, Result]{
		deps:    deps,
		name:    opts.Name,
		version: opts.Version,
		retries: opts.Retries,
		idGen:   idGen,
	}

	invoker := func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
		var args Args
		if len(data) > 0 {
			if err := json.Unmarshal(data, &args); err != nil {
				return nil, fmt.Errorf("%w: %s", core.ErrArgumentNotSerializable, err)
			}
		}
		result, err := body(ctx, args)
		if err != nil {
			return nil, err
		}
		out, err := core.Canonicalize(result)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := deps.Registry.Register(opts.Name, opts.Version, invoker); err != nil {
		return nil, err
	}
	return d, nil
}

// Name and Version expose the resolved registry key, e.g. for logging.
func (d *Def[Args, Result]) Name() string    { return d.name }
func (d *Def[Args, Result]) Version() string { return d.version }

// Call is the operation user code performs to invoke this task: from
// inside a running task body it is Mode 1 — non-blocking, returns a
// value, core.ErrSuspend, or a *core.TaskFailedError. Invoked with no
// ambient parent it instead creates-and-enqueues a fresh top-level
// record and returns immediately with the zero Result and a nil error;
// the caller awaits completion separately via the record's Done channel
// (runtime.WaitFor). Submit is the preferred entry point for a fresh
// top-level invocation when the caller just wants the id back.
func (d *Def[Args, Result]) Call(ctx context.Context, args Args) (Result, error) {
	var zero Result

	data, err := core.Canonicalize(args)
	if err != nil {
		return zero, err
	}

	parentID, hasParent := d.deps.ExecCtx.ParentTaskID()
	id := d.idGen(d.name, d.version, parentID, hasParent, data)

	if hasParent {
		result, err := d.callNested(ctx, id, parentID, data)
		return d.decode(result, err)
	}

	if err := submitTopLevel(ctx, d.deps, id, d.name, d.version, data, d.retries); err != nil {
		return zero, err
	}
	return zero, nil
}

// Submit creates and enqueues a fresh top-level invocation of this task,
// using this Def's own configured IDGenerator (not the package default),
// and returns the assigned id without waiting for completion. This is
// the entry point for kicking off work from outside any running task
// body when the id must depend on more than (name, version, no-parent,
// arguments) — e.g. a task registered with a random IDGenerator so that
// repeated no-argument submissions don't all collapse onto one id.
// Callers await the result separately (e.g. via runtime.WaitFor).
func (d *Def[Args, Result]) Submit(ctx context.Context, args Args) (core.TaskID, error) {
	data, err := core.Canonicalize(args)
	if err != nil {
		return "", err
	}
	id := d.idGen(d.name, d.version, "", false, data)
	if err := submitTopLevel(ctx, d.deps, id, d.name, d.version, data, d.retries); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Def[Args, Result]) decode(raw json.RawMessage, err error) (Result, error) {
	var zero Result
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, nil
	}
	var out Result
	if jerr := json.Unmarshal(raw, &out); jerr != nil {
		return zero, fmt.Errorf("%w: %s", core.ErrArgumentNotSerializable, jerr)
	}
	return out, nil
}

// callNested implements Mode 1: the call happens from inside
// another task body. It must not block: it returns a value, suspends, or
// raises.
func (d *Def[Args, Result]) callNested(ctx context.Context, id, parentID core.TaskID, data json.RawMessage) (json.RawMessage, error) {
	rec, exists := d.deps.Store.Get(id)
	if !exists {
		created, err := d.deps.Store.CreateChild(id, d.name, d.version, data, parentID, d.retries)
		if err != nil {
			// Lost the create race to a concurrent sibling resolving the
			// same deterministic id: fall through and treat it as found.
			rec, exists = d.deps.Store.Get(id)
			if !exists {
				return nil, err
			}
		} else {
			rec = created
			rec.Lock()
			if err := d.deps.Queue.Put(ctx, id); err != nil {
				rec.Unlock()
				return nil, err
			}
			_ = rec.SetStatus(core.StatusPending)
			rec.Unlock()
			d.deps.Log.Debug("child enqueued", "task_id", id, "parent_id", parentID, "name", d.name)
			return nil, core.ErrSuspend
		}
	}

	// Fatal on lock contention here: a sibling nested call racing for the
	// same child record is a real conflict, not a redelivery.
	if !rec.TryLock() {
		return nil, core.ErrLockedTask
	}
	defer rec.Unlock()

	switch rec.Status() {
	case core.StatusSuccess:
		return rec.Result(), nil
	case core.StatusFailed:
		return nil, &core.TaskFailedError{TaskID: string(id), Inner: fmt.Errorf("%s", rec.ErrMsg())}
	default:
		// Any non-terminal status: already queued or running.
		return nil, core.ErrSuspend
	}
}

// submitTopLevel creates (if absent) and enqueues a fresh top-level
// record. It is shared by Def.Call's no-parent branch and by Def.Submit.
func submitTopLevel(ctx context.Context, deps Deps, id core.TaskID, name, version string, data json.RawMessage, retries int) error {
	if deps.Store.Exists(id) {
		return nil
	}
	if _, err := deps.Store.CreateTopLevel(id, name, version, data, retries); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	return deps.Queue.Put(ctx, id)
}

// Dispatch implements Mode 2: the dispatcher popped id off the
// queue and is entering (or re-entering) that task's body. Unlike Call,
// Dispatch is not generic — by the time a task id reaches the queue, its
// name/version/arguments are already resolved in the store, so it only
// needs the type-erased registry.Invoker that Register installed.
func Dispatch(ctx context.Context, deps Deps, id core.TaskID) error {
	rec, exists := deps.Store.Get(id)
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrInvalidTaskID, id)
	}

	// Quiet on lock contention here: a duplicate redelivery racing an
	// in-flight dispatch of the same id is expected, not an error.
	if !rec.TryLock() {
		return nil
	}

	if core.IsTerminal(rec.Status()) {
		// A terminal record popped again (e.g. a duplicate parent
		// wake-up) does nothing further.
		rec.Unlock()
		return nil
	}

	if err := rec.SetRunning(); err != nil {
		rec.Unlock()
		return err
	}
	rec.ResetCacheClaims()
	name, version, data := rec.Name, rec.Version, rec.Data
	rec.Unlock()

	invoker, ok := deps.Registry.Lookup(name, version)
	if !ok {
		rec.Lock()
		rec.SetError(fmt.Sprintf("no invoker registered for %s@%s", name, version))
		enqueueParent(ctx, deps, rec)
		rec.Unlock()
		return fmt.Errorf("task: no invoker registered for %s@%s", name, version)
	}

	deps.ExecCtx.SetParentTaskID(id)
	result, bodyErr := invoker(ctx, data)
	deps.ExecCtx.ClearParentTaskID()

	rec.Lock()
	defer rec.Unlock()

	switch {
	case bodyErr == nil:
		rec.SetResult(result)
		deps.Log.Debug("task succeeded", "task_id", id, "name", name)
		enqueueParent(ctx, deps, rec)
		return nil

	case isSuspend(bodyErr):
		_ = rec.SetStatus(core.StatusPending)
		deps.Log.Debug("task suspended", "task_id", id, "name", name)
		return nil

	default:
		if tf, ok := core.AsTaskFailed(bodyErr); ok {
			rec.SetError(fmt.Sprintf("child task failed: %s", tf))
			deps.Log.Debug("task failed via child", "task_id", id, "name", name, "error", tf)
			enqueueParent(ctx, deps, rec)
			return nil
		}

		if rec.Retries() > 0 {
			rec.BeginRetry()
			deps.Log.Debug("task retrying", "task_id", id, "name", name, "remaining", rec.Retries(), "error", bodyErr)
			if putErr := deps.Queue.Put(ctx, id); putErr != nil {
				rec.SetError(bodyErr.Error())
				enqueueParent(ctx, deps, rec)
				return putErr
			}
			return nil
		}

		rec.SetError(bodyErr.Error())
		deps.Log.Debug("task failed", "task_id", id, "name", name, "error", bodyErr)
		enqueueParent(ctx, deps, rec)
		return nil
	}
}

func enqueueParent(ctx context.Context, deps Deps, rec *core.Record) {
	if !rec.HasParent {
		return
	}
	if err := deps.Queue.Put(ctx, rec.ParentID); err != nil {
		deps.Log.Error("failed to enqueue parent", "parent_id", rec.ParentID, "error", err)
	}
}

func isSuspend(err error) bool {
	return errors.Is(err, core.ErrSuspend)
}
