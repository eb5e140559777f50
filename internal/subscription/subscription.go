// Package subscription turns backend change notifications into store refreshes. Notifications
// carry no row data; each one only triggers a full refresh of the bound store. When a channel
// cannot be opened the binding is polled instead.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"github.com/kjstillabower/station-monitor/internal/scheduler"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Trigger sources passed to bound stores.
const (
	SourcePush      = "push"
	SourcePoll      = "poll"
	SourceReconcile = "reconcile"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("subscription manager already started")

// Target is the store side of a binding.
type Target interface {
	Name() string
	Trigger(source string)
}

// Source is one table channel and the change kinds that matter to a binding.
type Source struct {
	Table gateway.Table
	Kinds gateway.EventKind
}

// Binding links a store to the channels that invalidate it.
type Binding struct {
	Target  Target
	Sources []Source
}

// DefaultBindings returns the production channel layout.
func DefaultBindings(readings, alerts, stations, incidents Target) []Binding {
	return []Binding{
		{Target: readings, Sources: []Source{{gateway.TableReadings, gateway.EventInsert}}},
		{Target: alerts, Sources: []Source{{gateway.TableAlerts, gateway.EventAll}}},
		{Target: stations, Sources: []Source{{gateway.TableStations, gateway.EventUpdate}}},
		{Target: incidents, Sources: []Source{
			{gateway.TableIncidents, gateway.EventAll},
			{gateway.TableTasks, gateway.EventAll},
		}},
	}
}

// Config controls polling.
type Config struct {
	// FallbackPollInterval is used for bindings whose channel could not be opened. Defaults to 30s.
	FallbackPollInterval time.Duration
	// PollInterval adds a reconcile poll to every binding. Zero disables it.
	PollInterval time.Duration
}

// Manager owns the subscriptions and poll jobs of a set of bindings.
type Manager struct {
	gw     gateway.Gateway
	sched  *scheduler.Scheduler
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	subs    []namedSubscription
	tokens  []*scheduler.Token
	modes   map[string]string
	started bool
	stopped bool
}

type namedSubscription struct {
	table gateway.Table
	sub   gateway.Subscription
}

// NewManager creates a manager. Poll jobs are registered on sched; the caller starts and stops it.
func NewManager(gw gateway.Gateway, sched *scheduler.Scheduler, cfg Config, logger *zap.Logger) *Manager {
	if cfg.FallbackPollInterval <= 0 {
		cfg.FallbackPollInterval = 30 * time.Second
	}
	return &Manager{
		gw:     gw,
		sched:  sched,
		cfg:    cfg,
		logger: observability.Component(logger, "subscription"),
		modes:  make(map[string]string),
	}
}

// Start opens every binding's channels. A channel that fails to open switches its binding to
// polling and is not an error; only scheduling failures are returned.
func (m *Manager) Start(ctx context.Context, bindings []Binding) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	var errs error
	for _, b := range bindings {
		errs = multierr.Append(errs, m.bind(subCtx, b))
	}
	return errs
}

func (m *Manager) bind(ctx context.Context, b Binding) error {
	name := b.Target.Name()
	mode := "push"
	for _, src := range b.Sources {
		sub, err := m.gw.Subscribe(ctx, src.Table, src.Kinds, m.handler(b.Target))
		if err != nil {
			observability.SubscriptionFallbacksTotal.WithLabelValues(string(src.Table)).Inc()
			m.logger.Warn("subscription unavailable, falling back to polling",
				zap.String("store", name),
				zap.String("table", string(src.Table)),
				zap.Duration("interval", m.cfg.FallbackPollInterval),
				zap.Error(err),
			)
			mode = "poll"
			continue
		}
		m.mu.Lock()
		m.subs = append(m.subs, namedSubscription{table: src.Table, sub: sub})
		m.mu.Unlock()
		m.logger.Info("subscribed",
			zap.String("store", name),
			zap.String("table", string(src.Table)),
			zap.String("kinds", src.Kinds.String()),
		)
	}

	var errs error
	if mode == "poll" {
		errs = multierr.Append(errs, m.poll(b.Target, name+".fallback", m.cfg.FallbackPollInterval, SourcePoll))
	}
	if m.cfg.PollInterval > 0 {
		errs = multierr.Append(errs, m.poll(b.Target, name+".reconcile", m.cfg.PollInterval, SourceReconcile))
	}

	m.mu.Lock()
	m.modes[name] = mode
	m.mu.Unlock()
	return errs
}

func (m *Manager) poll(t Target, job string, every time.Duration, source string) error {
	tok, err := m.sched.Every(job, every, func(context.Context) {
		if m.isStopped() {
			return
		}
		t.Trigger(source)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job, err)
	}
	m.mu.Lock()
	m.tokens = append(m.tokens, tok)
	m.mu.Unlock()
	return nil
}

func (m *Manager) handler(t Target) func(gateway.Event) {
	return func(ev gateway.Event) {
		if m.isStopped() {
			return
		}
		observability.SubscriptionEventsTotal.WithLabelValues(string(ev.Table), ev.Kind.String()).Inc()
		t.Trigger(SourcePush)
	}
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Modes reports, per store, whether it is kept fresh by "push" or "poll".
func (m *Manager) Modes() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.modes))
	for k, v := range m.modes {
		out[k] = v
	}
	return out
}

// Stop unsubscribes every channel and cancels poll jobs. Events delivered afterwards are
// ignored. Unsubscribe failures are aggregated.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	subs, tokens, cancel := m.subs, m.tokens, m.cancel
	m.subs, m.tokens = nil, nil
	m.mu.Unlock()

	for _, tok := range tokens {
		tok.Cancel()
	}
	var errs error
	for _, s := range subs {
		if err := s.sub.Unsubscribe(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unsubscribe %s: %w", s.table, err))
		}
	}
	if cancel != nil {
		cancel()
	}
	if errs != nil {
		m.logger.Warn("unsubscribe failed", zap.Error(errs))
	}
	return errs
}
