package core

import (
	"errors"
	"testing"
)

func newTestRecord() *Record {
	return NewRecord("id-1", "demo.task", "v1", []byte(`{}`), "", false, 1)
}

func TestRecord_SetStatus_RejectsTransitionOutOfTerminal(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	r.SetError("boom")
	err := r.SetStatus(StatusPending)
	r.Unlock()
	if err == nil {
		t.Fatal("expected an error transitioning out of a terminal status")
	}
	var target *InvalidTaskStatusError
	if !errors.As(err, &target) {
		t.Fatalf("expected *InvalidTaskStatusError, got %T: %v", err, err)
	}
}

func TestRecord_SetResult_ClosesDone(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	r.SetResult([]byte(`42`))
	r.Unlock()

	select {
	case <-r.Done():
	default:
		t.Fatal("expected Done() to be closed after SetResult")
	}
	if r.Status() != StatusSuccess {
		t.Errorf("expected status SUCCESS, got %s", r.Status())
	}
}

func TestRecord_SetError_ClosesDone(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	r.SetError("nope")
	r.Unlock()

	select {
	case <-r.Done():
	default:
		t.Fatal("expected Done() to be closed after SetError")
	}
	if r.Status() != StatusFailed {
		t.Errorf("expected status FAILED, got %s", r.Status())
	}
}

func TestRecord_SetRunning_ValidatesSourceStatus(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	if err := r.SetRunning(); err != nil {
		t.Fatalf("expected CREATED -> RUNNING to succeed, got %v", err)
	}
	r.Unlock()

	r.Lock()
	r.SetResult([]byte(`1`))
	err := r.SetRunning()
	r.Unlock()
	if err == nil {
		t.Fatal("expected SUCCESS -> RUNNING to be rejected")
	}
}

func TestRecord_BeginRetry_DecrementsAndTransitions(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	r.BeginRetry()
	status := r.Status()
	retries := r.Retries()
	r.Unlock()

	if status != StatusRetrying {
		t.Errorf("expected RETRYING, got %s", status)
	}
	if retries != 0 {
		t.Errorf("expected retries to be decremented to 0, got %d", retries)
	}
}

func TestRecord_Cache_RoundTrips(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	defer r.Unlock()

	if r.CacheHas("k1") {
		t.Fatal("expected cache to be empty initially")
	}
	r.CacheSet("k1", 3)
	v, ok := r.CacheGet("k1")
	if !ok || v != 3 {
		t.Errorf("expected cached value 3, got %v (ok=%v)", v, ok)
	}
}

func TestRecord_TryLock_FailsWhileLocked(t *testing.T) {
	r := newTestRecord()
	r.Lock()
	defer r.Unlock()

	if r.TryLock() {
		t.Fatal("expected TryLock to fail while the record is already locked")
	}
}
