// Package store holds the authoritative in-memory copies of backend tables. Every refresh is
// a full re-fetch that replaces the store's value in one swap; readers never observe a mix of
// two fetches.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"go.uber.org/zap"
)

// ErrClosed is returned by Refresh after Close, and for fetches that complete after Close.
var ErrClosed = errors.New("store closed")

// Store is the lifecycle surface shared by every store.
type Store interface {
	Name() string
	Refresh(ctx context.Context) error
	Trigger(source string)
	Wait(ctx context.Context) error
	Close()
	Status() models.SyncInfo
	OnChange(fn func())
	OnResult(fn func(err error))
}

// Options configures a store.
type Options struct {
	Logger *zap.Logger
	// RefreshTimeout bounds each triggered refresh. Defaults to 10s.
	RefreshTimeout time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// state is the replace-on-refresh core shared by the typed stores.
type state[T any] struct {
	name   string
	logger *zap.Logger
	now    func() time.Time
	fetch  func(ctx context.Context) (T, error)
	size   func(T) int

	mu       sync.RWMutex
	value    T
	syncedAt time.Time
	lastErr  string
	closed   bool
	onChange []func()
	onResult []func(error)

	overlap   *overlapTracker
	coalescer *refreshCoalescer
}

func newState[T any](name string, opts Options, fetch func(ctx context.Context) (T, error), size func(T) int) *state[T] {
	opts = opts.withDefaults()
	s := &state[T]{
		name:    name,
		logger:  opts.Logger.Named("store").With(zap.String("store", name)),
		now:     opts.Now,
		fetch:   fetch,
		size:    size,
		overlap: newOverlapTracker(),
	}
	s.coalescer = newRefreshCoalescer(opts.RefreshTimeout, s.refreshTriggered)
	return s
}

// Name returns the store's metric and log label.
func (s *state[T]) Name() string {
	return s.name
}

// Refresh fetches and replaces the store's value. On failure the previous value is kept and
// the error is recorded. A fetch that completes after Close is discarded.
func (s *state[T]) Refresh(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	start := s.now()
	if n := s.overlap.begin(); n > 1 {
		observability.StoreRefreshOverlapTotal.WithLabelValues(s.name).Inc()
		s.logger.Debug("overlapping refresh", zap.Int("concurrent", n))
	}
	v, err := s.fetch(ctx)
	s.overlap.end()
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		observability.RecordRefresh(s.name, "discarded", elapsed)
		s.logger.Debug("discarding refresh result after close", zap.Error(err))
		return ErrClosed
	}
	if err != nil {
		s.lastErr = err.Error()
		hooks := s.onResult
		s.mu.Unlock()

		observability.RecordRefresh(s.name, "error", elapsed)
		s.logger.Warn("refresh failed, keeping previous data", zap.Error(err), zap.Duration("duration", elapsed))
		for _, fn := range hooks {
			fn(err)
		}
		return fmt.Errorf("refresh %s: %w", s.name, err)
	}
	s.value = v
	s.lastErr = ""
	s.syncedAt = s.now()
	changeHooks, resultHooks := s.onChange, s.onResult
	s.mu.Unlock()

	size := s.size(v)
	observability.RecordRefresh(s.name, "success", elapsed)
	observability.StoreEntries.WithLabelValues(s.name).Set(float64(size))
	s.logger.Debug("refresh applied", zap.Int("entries", size), zap.Duration("duration", elapsed))
	for _, fn := range resultHooks {
		fn(nil)
	}
	for _, fn := range changeHooks {
		fn()
	}
	return nil
}

// refreshTriggered runs a refresh for the coalescer. Refresh logs and records its own failures.
func (s *state[T]) refreshTriggered(ctx context.Context) {
	_ = s.Refresh(ctx)
}

// Trigger schedules an asynchronous refresh. Triggers arriving while one is in flight collapse
// into a single follow-up refresh that starts after it completes.
func (s *state[T]) Trigger(source string) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	observability.StoreTriggersTotal.WithLabelValues(s.name, source).Inc()
	if !s.coalescer.trigger() {
		observability.StoreTriggersCoalescedTotal.WithLabelValues(s.name).Inc()
	}
}

// Wait blocks until no triggered refresh is running or pending.
func (s *state[T]) Wait(ctx context.Context) error {
	return s.coalescer.wait(ctx)
}

// Close stops accepting triggers and makes in-flight fetches discard their results.
func (s *state[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.coalescer.close()
}

// Status reports the last sync time and the current error, if any.
func (s *state[T]) Status() models.SyncInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SyncInfo{SyncedAt: s.syncedAt, Error: s.lastErr}
}

// Err returns the error recorded by the last refresh, or "" after a success.
func (s *state[T]) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnChange registers fn to run after every applied replacement.
func (s *state[T]) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// OnResult registers fn to run after every applied or failed refresh with its error.
func (s *state[T]) OnResult(fn func(err error)) {
	s.mu.Lock()
	s.onResult = append(s.onResult, fn)
	s.mu.Unlock()
}

func (s *state[T]) get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
