// Package execctx implements the ambient, per-worker parent_task_id slot
// nested calls read to learn which task body they are being made from.
// User task functions keep their original signatures (no context
// parameter threaded through every call), so the runtime needs a
// goroutine-local equivalent of Python's threading.local() — see
// thread_util.py in original_source.
//
// Go has no native goroutine-local storage. This package uses a
// goroutine-keyed map built on parsing runtime.Stack's header, the same
// technique goroutine-id libraries in the wild use internally — see
// DESIGN.md for why that route was chosen over importing such a library
// directly.
package execctx

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/relaydispatch/taskrt/internal/core"
)

type slot struct {
	parentID    core.TaskID
	hasParentID bool
}

// Context owns the ambient slots for every goroutine currently executing
// inside the runtime. It is an explicit value held by runtime.Runtime, not a package-level global.
type Context struct {
	mu    sync.Mutex
	slots map[uint64]*slot
}

// New creates an empty Context.
func New() *Context {
	return &Context{slots: make(map[uint64]*slot)}
}

func (c *Context) slotFor(id uint64, create bool) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		if !create {
			return nil
		}
		s = &slot{}
		c.slots[id] = s
	}
	return s
}

func (c *Context) gc(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[id]; ok && !s.hasParentID {
		delete(c.slots, id)
	}
}

// SetParentTaskID records the id of the task body currently executing on
// the calling goroutine.
func (c *Context) SetParentTaskID(id core.TaskID) {
	s := c.slotFor(goroutineID(), true)
	c.mu.Lock()
	s.parentID, s.hasParentID = id, true
	c.mu.Unlock()
}

// ClearParentTaskID clears the current parent task id.
func (c *Context) ClearParentTaskID() {
	id := goroutineID()
	if s := c.slotFor(id, false); s != nil {
		c.mu.Lock()
		s.parentID, s.hasParentID = "", false
		c.mu.Unlock()
	}
	c.gc(id)
}

// ParentTaskID returns the current goroutine's parent task id, if any is
// set. Mode 1 vs. Mode 2 dispatch is decided by whether this is set.
func (c *Context) ParentTaskID() (core.TaskID, bool) {
	s := c.slotFor(goroutineID(), false)
	if s == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.parentID, s.hasParentID
}

// goroutineID extracts the calling goroutine's runtime id by parsing the
// "goroutine NNN [...]" header line runtime.Stack prints. This is the same
// technique third-party goroutine-id packages wrap; it is intentionally
// kept inline here rather than depending on one (see the package doc
// comment and DESIGN.md).
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
