// Package scheduler runs periodic jobs on a robfig/cron scheduler. Every job receives a context
// that is cancelled when its Token is cancelled or the scheduler stops, so in-flight work can
// observe teardown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Job is a unit of periodic work.
type Job func(ctx context.Context)

// Scheduler wraps cron with named jobs and cancellation tokens.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tokens  map[cron.EntryID]*Token
	started bool
	stopped bool
}

// Token cancels one scheduled job. Cancel is safe to call more than once.
type Token struct {
	name   string
	id     cron.EntryID
	s      *Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a scheduler. Panicking jobs are recovered and a job still running at its next
// activation is skipped.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := NewCronLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tokens: make(map[cron.EntryID]*Token),
	}
}

// Every schedules job to run every d. cron truncates d to whole seconds and raises anything
// below one second to one second.
func (s *Scheduler) Every(name string, d time.Duration, job Job) (*Token, error) {
	if d <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive, got %s", name, d)
	}
	return s.add(name, cron.Every(d), job)
}

// Cron schedules job with a standard five-field cron expression or a descriptor such as "@hourly".
func (s *Scheduler) Cron(name, expr string, job Job) (*Token, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.add(name, sched, job)
}

func (s *Scheduler) add(name string, sched cron.Schedule, job Job) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &Token{name: name, s: s, ctx: ctx, cancel: cancel}
	t.id = s.cron.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}))
	s.tokens[t.id] = t
	s.logger.Debug("job scheduled", zap.String("job", name), zap.Time("next", sched.Next(time.Now())))
	return t, nil
}

// Start begins running jobs. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels every job context, stops the cron loop and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Name returns the job name.
func (t *Token) Name() string {
	return t.name
}

// Cancel removes the job and cancels the context of a run in progress.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancel()
		t.s.cron.Remove(t.id)
		t.s.mu.Lock()
		delete(t.s.tokens, t.id)
		t.s.mu.Unlock()
		t.s.logger.Debug("job cancelled", zap.String("job", t.name))
	})
}

// Done is closed when the job is cancelled or the scheduler stops.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}
