package task

import (
	"sync"

	"github.com/relaydispatch/taskrt/internal/core"
)

// RunInParallel runs each thunk concurrently and collects results in the
// order the thunks were given. It implements an outcome-priority
// combinator: if any thunk produced a
// non-Suspend, non-TaskFailed error, that error wins; otherwise if any
// produced a TaskFailed, that wins; otherwise if any suspended, Suspend
// wins; only if every thunk produced a value does RunInParallel return
// those values.
//
// This mirrors original_source's run_in_parallel, which launches one
// thread per call and then re-raises by the same priority once every
// thread has finished — the point being that a parent re-entered after a
// partial parallel fan-out does not get a stale partial result; it always
// re-observes every branch.
//
// deps.ExecCtx's ambient parent task id is goroutine-local, so each
// spawned goroutine must have it re-seeded from the calling goroutine
// before running its thunk (and cleared after) or a nested Def.Call inside
// that thunk would see no parent and misinterpret itself as a fresh
// top-level submission.
func RunInParallel[T any](deps Deps, thunks ...func() (T, error)) ([]T, error) {
	n := len(thunks)
	results := make([]T, n)
	errs := make([]error, n)

	parentID, hasParent := deps.ExecCtx.ParentTaskID()

	var wg sync.WaitGroup
	wg.Add(n)
	for i, thunk := range thunks {
		i, thunk := i, thunk
		go func() {
			defer wg.Done()
			if hasParent {
				deps.ExecCtx.SetParentTaskID(parentID)
				defer deps.ExecCtx.ClearParentTaskID()
			}
			results[i], errs[i] = thunk()
		}()
	}
	wg.Wait()

	var suspended bool
	var failed error
	for _, err := range errs {
		switch {
		case err == nil:
			continue
		case isSuspend(err):
			suspended = true
		default:
			if _, ok := core.AsTaskFailed(err); ok {
				if failed == nil {
					failed = err
				}
			} else {
				// Any other error outranks both Suspend and TaskFailed.
				return nil, err
			}
		}
	}
	if failed != nil {
		return nil, failed
	}
	if suspended {
		return nil, core.ErrSuspend
	}
	return results, nil
}
