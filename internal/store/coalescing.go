package store

import (
	"context"
	"sync"
	"time"
)

// refreshCoalescer runs at most one refresh at a time for a store. A trigger that arrives
// while a refresh is running marks exactly one follow-up; further triggers fold into it.
// The follow-up starts after the running refresh completes, so the store is never left older
// than the latest trigger.
type refreshCoalescer struct {
	mu      sync.Mutex
	running bool
	pending bool
	closed  bool
	waiters []chan struct{} // closed when the loop goes idle

	timeout time.Duration
	run     func(ctx context.Context)
}

func newRefreshCoalescer(timeout time.Duration, run func(ctx context.Context)) *refreshCoalescer {
	return &refreshCoalescer{timeout: timeout, run: run}
}

// trigger starts the refresh loop, or marks a follow-up when one is running.
// It returns false when the trigger was folded into an existing follow-up.
func (rc *refreshCoalescer) trigger() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	if rc.running {
		if rc.pending {
			return false
		}
		rc.pending = true
		return true
	}
	rc.running = true
	go rc.loop()
	return true
}

func (rc *refreshCoalescer) loop() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
		rc.run(ctx)
		cancel()

		rc.mu.Lock()
		if rc.pending && !rc.closed {
			rc.pending = false
			rc.mu.Unlock()
			continue
		}
		rc.running = false
		rc.pending = false
		waiters := rc.waiters
		rc.waiters = nil
		rc.mu.Unlock()

		for _, w := range waiters {
			close(w)
		}
		return
	}
}

// wait blocks until the loop is idle or ctx is done.
func (rc *refreshCoalescer) wait(ctx context.Context) error {
	rc.mu.Lock()
	if !rc.running {
		rc.mu.Unlock()
		return nil
	}
	notify := make(chan struct{})
	rc.waiters = append(rc.waiters, notify)
	rc.mu.Unlock()

	select {
	case <-notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drops any pending follow-up. A refresh already running is allowed to finish.
func (rc *refreshCoalescer) close() {
	rc.mu.Lock()
	rc.closed = true
	rc.pending = false
	rc.mu.Unlock()
}
