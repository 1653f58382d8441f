package task

import (
	"fmt"

	"github.com/relaydispatch/taskrt/internal/core"
)

// Cache implements the per-task memoization combinator: within a
// single task body, a call to Cache(deps, key, compute) runs compute at
// most once across every re-entrant replay of that body, the same way
// original_source's @task_cache decorator memoizes by argument tuple so
// that a non-deterministic computation (e.g. a random draw) is stable
// across a parent's repeated re-execution.
//
// key must distinguish distinct call sites/arguments within the same task
// body; callers typically derive it from the compute's logical name plus
// its arguments. Two different call sites sharing a key within the same
// execution pass is a programmer error: Cache reports it as
// core.ErrCacheKeyConflict rather than silently handing the second call
// the first call's value.
func Cache[T any](deps Deps, key string, compute func() (T, error)) (T, error) {
	var zero T

	id, ok := deps.ExecCtx.ParentTaskID()
	if !ok {
		return zero, fmt.Errorf("task: Cache called outside of a running task body: %w", core.ErrNoAmbientTask)
	}
	rec, exists := deps.Store.Get(id)
	if !exists {
		return zero, fmt.Errorf("%w: %s", core.ErrInvalidTaskID, id)
	}

	rec.Lock()
	if cached, ok := rec.CacheGet(key); ok {
		if !rec.ClaimCacheKey(key) {
			rec.Unlock()
			return zero, fmt.Errorf("%w: %s", core.ErrCacheKeyConflict, key)
		}
		rec.Unlock()
		typed, ok := cached.(T)
		if !ok {
			return zero, fmt.Errorf("task: cached value for key %q has unexpected type", key)
		}
		return typed, nil
	}
	if !rec.ClaimCacheKey(key) {
		// Not yet in the cache but already claimed this pass: a sibling
		// call site is concurrently computing the same key (e.g. from
		// RunInParallel). Treat it the same as a resolved conflict rather
		// than racing compute twice.
		rec.Unlock()
		return zero, fmt.Errorf("%w: %s", core.ErrCacheKeyConflict, key)
	}
	rec.Unlock()

	value, err := compute()
	if err != nil {
		return zero, err
	}

	rec.Lock()
	rec.CacheSet(key, value)
	rec.Unlock()

	return value, nil
}
