// Package store implements the task store: a map of task id to Record,
// with per-record locking and a local per-task memoization cache. The
// record set grows dynamically as re-entrant task bodies discover new
// children, rather than being resolved from a precomputed graph up
// front.
package store

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/relaydispatch/taskrt/internal/core"
)

// Store is safe for concurrent use. The map-level lock only ever brackets
// map lookups/inserts; once a *core.Record is obtained, further
// synchronization happens on that record's own lock.
type Store struct {
	mu      sync.RWMutex
	records map[core.TaskID]*core.Record
	log     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[core.TaskID]*core.Record),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists reports whether id is already present. No record lock is needed
// since only the map entry itself is being checked.
func (s *Store) Exists(id core.TaskID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Get returns the record for id, or (nil, false) if absent.
func (s *Store) Get(id core.TaskID) (*core.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// CreateChild creates a new child record parented to parentID. Creation
// rejects a colliding id with core.ErrAlreadyExists so the wrapper can
// branch on "already known" vs. "new".
func (s *Store) CreateChild(id core.TaskID, name, version string, data json.RawMessage, parentID core.TaskID, retries int) (*core.Record, error) {
	return s.create(id, name, version, data, parentID, true, retries)
}

// CreateTopLevel creates a new top-level record (no parent).
func (s *Store) CreateTopLevel(id core.TaskID, name, version string, data json.RawMessage, retries int) (*core.Record, error) {
	return s.create(id, name, version, data, "", false, retries)
}

func (s *Store) create(id core.TaskID, name, version string, data json.RawMessage, parentID core.TaskID, hasParent bool, retries int) (*core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return nil, core.ErrAlreadyExists
	}
	// A child's parent must already exist in the store.
	if hasParent {
		if _, ok := s.records[parentID]; !ok {
			return nil, &core.InvalidTaskIDError{ID: string(parentID)}
		}
	}

	r := core.NewRecord(id, name, version, data, parentID, hasParent, retries)
	s.records[id] = r
	s.log.Debug("created task", "task_id", id, "name", name, "version", version, "parent_id", parentID, "has_parent", hasParent)
	return r, nil
}

// Count returns the number of records currently held (diagnostic only).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
