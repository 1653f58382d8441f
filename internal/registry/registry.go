// Package registry maps (name, version) to a registered task invoker.
// Registration is write-once-then-read-only after startup: a duplicate
// (name, version) registration is rejected rather than silently
// overwriting the first one.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/relaydispatch/taskrt/internal/core"
)

// Invoker runs the user function registered for a task, given the
// record's canonical argument data, and returns canonical result data.
// The task package wraps/unwraps the typed Args/Result around this
// type-erased boundary.
type Invoker func(ctx context.Context, data json.RawMessage) (json.RawMessage, error)

type key struct {
	name    string
	version string
}

// Registry is safe for concurrent Lookup once registration has completed.
// Register itself takes a write lock so it is also safe during a startup
// phase that registers from multiple goroutines.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Invoker
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[key]Invoker)}
}

// Register binds (name, version) to fn. It returns core.ErrAlreadyRegistered
// if the pair is already present.
func (r *Registry) Register(name, version string, fn Invoker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{name, version}
	if _, exists := r.entries[k]; exists {
		return fmt.Errorf("%w: %s@%s", core.ErrAlreadyRegistered, name, version)
	}
	r.entries[k] = fn
	return nil
}

// Lookup returns the invoker registered for (name, version).
func (r *Registry) Lookup(name, version string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.entries[key{name, version}]
	return fn, ok
}
