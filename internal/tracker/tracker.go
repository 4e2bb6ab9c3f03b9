// Package tracker keeps the set of centrals currently connected to the
// peripheral.
package tracker

import (
	"slices"
	"sync"
)

// ConnHandle is the per-connection identifier issued by the radio stack.
type ConnHandle uint16

// Tracker is a set of connection handles, safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	conns map[ConnHandle]struct{}
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{conns: make(map[ConnHandle]struct{})}
}

// Connect adds h and reports whether it was not already tracked.
func (t *Tracker) Connect(h ConnHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[h]; ok {
		return false
	}
	t.conns[h] = struct{}{}
	return true
}

// Disconnect removes h. Removing an untracked handle is a no-op. It reports
// whether h was removed and whether the set is empty afterwards.
func (t *Tracker) Disconnect(h ConnHandle) (removed, empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[h]; ok {
		delete(t.conns, h)
		removed = true
	}
	return removed, len(t.conns) == 0
}

// Snapshot returns a sorted copy of the tracked handles. Later changes to the
// tracker do not affect the returned slice.
func (t *Tracker) Snapshot() []ConnHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnHandle, 0, len(t.conns))
	for h := range t.conns {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Contains reports whether h is tracked.
func (t *Tracker) Contains(h ConnHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[h]
	return ok
}

// Len returns the number of tracked connections.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Clear empties the tracker and returns the handles it held, sorted.
func (t *Tracker) Clear() []ConnHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnHandle, 0, len(t.conns))
	for h := range t.conns {
		out = append(out, h)
	}
	slices.Sort(out)
	clear(t.conns)
	return out
}
