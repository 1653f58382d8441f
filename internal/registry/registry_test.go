package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaydispatch/taskrt/internal/core"
)

func TestRegistry_RegisterThenLookup(t *testing.T) {
	r := New()
	fn := func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
		return data, nil
	}
	if err := r.Register("demo", "v1", fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.Lookup("demo", "v1")
	if !ok {
		t.Fatal("expected Lookup to find the registered invoker")
	}
	out, err := got(context.Background(), json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error invoking: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRegistry_Register_RejectsDuplicate(t *testing.T) {
	r := New()
	fn := func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) { return nil, nil }
	if err := r.Register("demo", "v1", fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register("demo", "v1", fn)
	if !errors.Is(err, core.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_Lookup_DistinguishesVersions(t *testing.T) {
	r := New()
	fn := func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) { return nil, nil }
	if err := r.Register("demo", "v1", fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.Lookup("demo", "v2"); ok {
		t.Fatal("expected no invoker registered for a different version")
	}
}
