// Package service assembles the stores, subscriptions, scheduler and generator into one
// explicitly started and stopped monitor, and is the only write path to the backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kjstillabower/station-monitor/internal/cache"
	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/generator"
	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"github.com/kjstillabower/station-monitor/internal/scheduler"
	"github.com/kjstillabower/station-monitor/internal/store"
	"github.com/kjstillabower/station-monitor/internal/subscription"
)

var (
	// ErrAlreadyStarted is returned by Start on a service that was started before.
	ErrAlreadyStarted = errors.New("monitor already started")
	// ErrNotRunning is returned by Stop on a service that is not running.
	ErrNotRunning = errors.New("monitor not running")
	// ErrEmptyPatch is returned by UpdateAlert when the patch changes nothing.
	ErrEmptyPatch = errors.New("patch changes nothing")
)

type runState int

const (
	stateNew runState = iota
	stateRunning
	stateStopped
)

// Options configures a MonitorService. Zero values take defaults.
type Options struct {
	Logger *zap.Logger
	// Cache receives the snapshot under cache.SnapshotKey after every store change. Optional.
	Cache    cache.Cache
	CacheTTL time.Duration

	RefreshTimeout time.Duration
	Subscription   subscription.Config
	// FullResyncCron schedules a refresh of every store, e.g. "@hourly". Empty disables it.
	FullResyncCron string

	GeneratorEnabled bool
	Generator        generator.Config
	// Rand drives the generator; nil seeds from the clock.
	Rand *rand.Rand

	// OnRefresh receives every store refresh outcome, e.g. degraded.Detector.RecordRefresh.
	OnRefresh func(err error)
	Now       func() time.Time
}

// MonitorService owns the authoritative in-memory state.
type MonitorService struct {
	gw     gateway.Gateway
	logger *zap.Logger
	now    func() time.Time

	readings  *store.ReadingCache
	stations  *store.StationRegistry
	alerts    *store.AlertFeed
	incidents *store.IncidentBoard

	sched *scheduler.Scheduler
	subs  *subscription.Manager
	gen   *generator.Generator

	resyncCron string

	cache    cache.Cache
	cacheTTL time.Duration

	mu    sync.Mutex
	state runState

	publishMu sync.Mutex
}

// New builds a service over gw. Nothing runs until Start.
func New(gw gateway.Gateway, opts Options) *MonitorService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	logger := opts.Logger.Named("monitor")
	storeOpts := store.Options{Logger: opts.Logger, RefreshTimeout: opts.RefreshTimeout, Now: opts.Now}

	s := &MonitorService{
		gw:        gw,
		logger:    logger,
		now:       opts.Now,
		readings:  store.NewReadingCache(gw, storeOpts),
		stations:  store.NewStationRegistry(gw, storeOpts),
		alerts:    store.NewAlertFeed(gw, storeOpts),
		incidents: store.NewIncidentBoard(gw, storeOpts),
		sched:     scheduler.New(opts.Logger),
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,

		resyncCron: opts.FullResyncCron,
	}
	s.subs = subscription.NewManager(gw, s.sched, opts.Subscription, opts.Logger)
	if opts.GeneratorEnabled {
		genOpts := []generator.Option{generator.WithClock(opts.Now)}
		if opts.Rand != nil {
			genOpts = append(genOpts, generator.WithRand(opts.Rand))
		}
		s.gen = generator.New(gw, s.stations, s.readings, opts.Generator, opts.Logger, genOpts...)
	}

	for _, st := range s.stores() {
		st.OnChange(s.publish)
		if opts.OnRefresh != nil {
			st.OnResult(opts.OnRefresh)
		}
	}
	return s
}

func (s *MonitorService) stores() []store.Store {
	return []store.Store{s.stations, s.readings, s.alerts, s.incidents}
}

func (s *MonitorService) resync() {
	for _, st := range s.stores() {
		st.Trigger("resync")
	}
}

// Start runs the initial sync, opens subscriptions and starts scheduled work. Initial sync
// failures are logged and leave the affected store empty with its error recorded; they are not
// returned. Only wiring failures are.
func (s *MonitorService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateNew {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = stateRunning
	s.mu.Unlock()

	if err := syncAll(ctx, s.stores(), s.logger); err != nil {
		s.logger.Warn("initial sync incomplete, serving partial state", zap.Error(err))
	}

	bindings := subscription.DefaultBindings(s.readings, s.alerts, s.stations, s.incidents)
	if err := s.subs.Start(ctx, bindings); err != nil {
		return fmt.Errorf("start subscriptions: %w", err)
	}
	if s.gen != nil {
		if _, err := s.gen.Schedule(s.sched); err != nil {
			return fmt.Errorf("schedule generator: %w", err)
		}
	}
	if s.resyncCron != "" {
		if _, err := s.sched.Cron("full-resync", s.resyncCron, func(context.Context) { s.resync() }); err != nil {
			return fmt.Errorf("schedule full resync: %w", err)
		}
	}
	s.sched.Start()
	s.publish()

	s.logger.Info("monitor started",
		zap.Int("stations", s.stations.Len()),
		zap.Int("readings", s.readings.Len()),
		zap.Int("alerts", s.alerts.Len()),
		zap.Any("channels", s.subs.Modes()),
		zap.Bool("generator", s.gen != nil),
	)
	return nil
}

// Stop unsubscribes, stops scheduled work and closes the stores so late fetch results are
// discarded, then waits for in-flight refreshes until ctx is done. Errors are aggregated.
func (s *MonitorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = stateStopped
	s.mu.Unlock()

	var errs error
	errs = multierr.Append(errs, s.subs.Stop())
	errs = multierr.Append(errs, s.sched.Stop(ctx))
	for _, st := range s.stores() {
		st.Close()
	}
	for _, st := range s.stores() {
		if err := st.Wait(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("wait for %s: %w", st.Name(), err))
		}
	}
	if errs != nil {
		s.logger.Warn("monitor stopped with errors", zap.Error(errs))
	} else {
		s.logger.Info("monitor stopped")
	}
	return errs
}

// Running reports whether Start has completed and Stop has not been called.
func (s *MonitorService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Registry returns the station registry.
func (s *MonitorService) Registry() *store.StationRegistry { return s.stations }

// Readings returns the latest-reading cache.
func (s *MonitorService) Readings() *store.ReadingCache { return s.readings }

// Alerts returns the alert feed.
func (s *MonitorService) Alerts() *store.AlertFeed { return s.alerts }

// Incidents returns the incident board.
func (s *MonitorService) Incidents() *store.IncidentBoard { return s.incidents }

// StoreStatus reports the sync state of every store by name.
func (s *MonitorService) StoreStatus() map[string]models.SyncInfo {
	out := make(map[string]models.SyncInfo, 4)
	for _, st := range s.stores() {
		out[st.Name()] = st.Status()
	}
	return out
}

// ChannelModes reports whether each store is kept fresh by push or by polling.
func (s *MonitorService) ChannelModes() map[string]string {
	return s.subs.Modes()
}

// Snapshot assembles the read model. Each store is read once; locally dismissed alerts are
// left out of both the alert list and the severity counts.
func (s *MonitorService) Snapshot() models.Snapshot {
	stations := s.stations.Stations()
	alerts := s.alerts.Visible()
	return models.Snapshot{
		Stations:    stations,
		Readings:    s.readings.All(),
		Alerts:      alerts,
		Center:      models.Centroid(stations),
		Stats:       models.ComputeStats(stations, alerts),
		Stores:      s.StoreStatus(),
		GeneratedAt: s.now().UTC(),
	}
}

// publish writes the current snapshot to the cache. Publications are serialized so an older
// snapshot never overwrites a newer one.
func (s *MonitorService) publish() {
	if s.cache == nil {
		return
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, cache.SnapshotKey, s.Snapshot(), s.cacheTTL); err != nil {
		observability.SnapshotCacheTotal.WithLabelValues("set_error").Inc()
		s.logger.Warn("publish snapshot failed", zap.Error(err))
		return
	}
	observability.SnapshotCacheTotal.WithLabelValues("set").Inc()
}

// DismissAlert hides an alert locally and republishes. It reports whether the alert is in the feed.
func (s *MonitorService) DismissAlert(id string) bool {
	ok := s.alerts.Dismiss(id)
	s.publish()
	return ok
}

// RestoreAlert undoes DismissAlert.
func (s *MonitorService) RestoreAlert(id string) {
	s.alerts.Restore(id)
	s.publish()
}
