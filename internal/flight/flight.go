// Package flight tracks which keys have work in flight, so callers can ensure
// at most one background task runs per key without blocking anyone.
package flight

import "sync"

// Group is a per-key in-flight latch. The zero value is not usable; call New.
type Group struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an empty Group.
func New() *Group {
	return &Group{active: make(map[string]struct{})}
}

// TryAcquire marks key as in flight and reports whether the caller won the
// claim. A false return means another caller already holds the key.
func (g *Group) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[key]; ok {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

// Release clears the key so a future TryAcquire can win it. Safe to call for
// keys that were never acquired.
func (g *Group) Release(key string) {
	g.mu.Lock()
	delete(g.active, key)
	g.mu.Unlock()
}

// Len reports how many keys are currently in flight.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
