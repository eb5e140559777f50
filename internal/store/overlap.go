package store

import "sync"

// overlapTracker counts refreshes of one store that are running at the same time. Direct
// Refresh calls (startup sync, writes) can overlap the triggered loop.
type overlapTracker struct {
	mu     sync.Mutex
	active int
}

func newOverlapTracker() *overlapTracker {
	return &overlapTracker{}
}

// begin records a started refresh and returns the concurrent count including it.
// Callers must call end when the fetch returns.
func (ot *overlapTracker) begin() int {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	ot.active++
	return ot.active
}

func (ot *overlapTracker) end() {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	if ot.active > 0 {
		ot.active--
	}
}
