package task

import (
	"context"
	"testing"

	"github.com/relaydispatch/taskrt/internal/core"
)

func TestDispatch_RetriesOnOrdinaryErrorUntilBudgetExhausted(t *testing.T) {
	deps := newTestDeps()
	ctx := context.Background()

	attempts := 0
	flaky, err := Register(deps, Options{Name: "flaky.task", Version: "v1", Retries: 2}, func(ctx context.Context, _ struct{}) (int, error) {
		attempts++
		return 0, errBoom
	})
	if err != nil {
		t.Fatalf("unexpected error registering: %v", err)
	}

	if _, err := flaky.Call(ctx, struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := deps.Queue.TryPop()

	// Attempt 1: fails, 2 retries remain -> RETRYING, re-enqueued.
	if err := Dispatch(ctx, deps, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := deps.Store.Get(id)
	rec.Lock()
	status := rec.Status()
	rec.Unlock()
	if status != core.StatusRetrying {
		t.Fatalf("expected RETRYING after first failure, got %s", status)
	}
	if _, ok := deps.Queue.TryPop(); !ok {
		t.Fatal("expected the task to be re-enqueued for retry")
	}

	// Attempt 2: fails, 1 retry remains -> RETRYING again.
	if err := Dispatch(ctx, deps, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Lock()
	status = rec.Status()
	rec.Unlock()
	if status != core.StatusRetrying {
		t.Fatalf("expected RETRYING after second failure, got %s", status)
	}
	deps.Queue.TryPop()

	// Attempt 3: fails, no retries remain -> FAILED, terminal.
	if err := Dispatch(ctx, deps, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Lock()
	status = rec.Status()
	rec.Unlock()
	if status != core.StatusFailed {
		t.Fatalf("expected FAILED once retries are exhausted, got %s", status)
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts (1 original + 2 retries), got %d", attempts)
	}
}

func TestDispatch_SuspendDoesNotConsumeRetryBudget(t *testing.T) {
	deps := newTestDeps()
	ctx := context.Background()

	leaf, err := Register(deps, Options{Name: "leaf.noop", Version: "v1"}, func(ctx context.Context, _ struct{}) (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parent, err := Register(deps, Options{Name: "parent.suspends_once", Version: "v1", Retries: 1}, func(ctx context.Context, _ struct{}) (int, error) {
		return leaf.Call(ctx, struct{}{})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := parent.Call(ctx, struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parentID, _ := deps.Queue.TryPop()

	if err := Dispatch(ctx, deps, parentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := deps.Store.Get(parentID)
	rec.Lock()
	status := rec.Status()
	retries := rec.Retries()
	rec.Unlock()
	if status != core.StatusPending {
		t.Fatalf("expected suspension to leave the parent PENDING (not RETRYING), got %s", status)
	}
	if retries != 1 {
		t.Errorf("expected the retry budget to be untouched by a suspend, got %d remaining", retries)
	}
}
