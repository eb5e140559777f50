// Package generator simulates sensor traffic by inserting synthetic readings for a random third
// of the known stations on every tick.
package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"github.com/kjstillabower/station-monitor/internal/scheduler"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Tide bounds applied when clamping is enabled.
const (
	TideMin = -3.5
	TideMax = 1.5
)

// tidePeriodDivisor turns epoch milliseconds into the argument of the slow tide sine.
const tidePeriodDivisor = 43_200_000

// StationSource lists the stations to sample from.
type StationSource interface {
	Stations() []models.Station
}

// Refresher is the reading store triggered after each tick.
type Refresher interface {
	Trigger(source string)
}

// Config controls the generator.
type Config struct {
	Interval  time.Duration
	ClampTide bool
}

// Generator inserts synthetic readings.
type Generator struct {
	gw       gateway.Gateway
	stations StationSource
	readings Refresher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes a Generator.
type Option func(*Generator)

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = r }
}

// WithClock sets the clock used for the tide phase.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New creates a generator. Without WithRand the source is seeded from the clock.
func New(gw gateway.Gateway, stations StationSource, readings Refresher, cfg Config, logger *zap.Logger, opts ...Option) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	g := &Generator{
		gw:       gw,
		stations: stations,
		readings: readings,
		cfg:      cfg,
		logger:   observability.Component(logger, "generator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(g.now().UnixNano()))
	}
	return g
}

// Schedule registers Tick on s at the configured interval.
func (g *Generator) Schedule(s *scheduler.Scheduler) (*scheduler.Token, error) {
	return s.Every("generator", g.cfg.Interval, func(ctx context.Context) {
		_ = g.Tick(ctx)
	})
}

// Tick inserts one reading for each of ceil(n/3) randomly chosen stations and then triggers a
// reading refresh. Insert failures are logged and returned together; they do not stop the
// remaining stations.
func (g *Generator) Tick(ctx context.Context) error {
	stations := g.stations.Stations()
	if len(stations) == 0 {
		g.logger.Debug("no stations, skipping tick")
		return nil
	}
	observability.GeneratorTicksTotal.Inc()

	g.mu.Lock()
	picked := pick(g.rng, stations)
	readings := make([]models.Reading, len(picked))
	now := g.now()
	for i, st := range picked {
		readings[i] = Synthesize(g.rng, st.ID, now, g.cfg.ClampTide)
	}
	g.mu.Unlock()

	var errs error
	inserted := 0
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if _, err := g.gw.Insert(ctx, gateway.TableReadings, gateway.EncodeReading(r)); err != nil {
			observability.GeneratorReadingsTotal.WithLabelValues("error").Inc()
			g.logger.Warn("insert synthetic reading failed", zap.String("station_id", r.StationID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("station %s: %w", r.StationID, err))
			continue
		}
		observability.GeneratorReadingsTotal.WithLabelValues("success").Inc()
		inserted++
	}

	g.readings.Trigger("generator")
	g.logger.Debug("tick complete",
		zap.Int("stations", len(stations)),
		zap.Int("selected", len(picked)),
		zap.Int("inserted", inserted),
	)
	return errs
}

// pick returns ceil(n/3) stations from a shuffled copy.
func pick(rng *rand.Rand, stations []models.Station) []models.Station {
	shuffled := append([]models.Station(nil), stations...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	n := (len(shuffled) + 2) / 3
	return shuffled[:n]
}

// Synthesize builds a reading for stationID. Each measurement draws one value from rng in a
// fixed order: tide, wave, wind speed, wind direction, water temperature, quality, pressure.
func Synthesize(rng *rand.Rand, stationID string, now time.Time, clampTide bool) models.Reading {
	phase := math.Sin(float64(now.UnixMilli())/tidePeriodDivisor) * 1.5
	tide := round(rng.Float64()*4-2+phase, 2)
	if clampTide {
		tide = math.Max(TideMin, math.Min(TideMax, tide))
	}
	return models.Reading{
		StationID:           stationID,
		TideLevel:           tide,
		WaveHeight:          round(rng.Float64()*3+0.5, 2),
		WindSpeed:           round(rng.Float64()*25+5, 1),
		WindDirection:       int(math.Floor(rng.Float64() * 360)),
		WaterTemperature:    round(rng.Float64()*8+16, 1),
		WaterQualityIndex:   int(math.Floor(rng.Float64()*40 + 60)),
		AtmosphericPressure: round(rng.Float64()*30+1000, 2),
	}
}

// round rounds half up to d decimals.
func round(x float64, d int) float64 {
	p := math.Pow(10, float64(d))
	return math.Floor(x*p+0.5) / p
}
