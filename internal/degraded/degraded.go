// Package degraded decides whether the monitor is serving stale data: the gateway breaker is
// open, or too many store refreshes failed recently.
package degraded

import (
	"fmt"
	"time"

	"github.com/kjstillabower/station-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/station-monitor/internal/traffic"
)

// BreakerProbe reports a circuit breaker state. *gateway.Guarded implements it.
type BreakerProbe interface {
	BreakerState() circuitbreaker.State
}

// Config sets the refresh error thresholds.
type Config struct {
	Window   time.Duration
	ErrorPct int
	// MinSamples is the number of refreshes required in Window before the error rate counts.
	MinSamples int
}

// Status is the result of Check.
type Status struct {
	Degraded       bool
	// BreakerTripped is set while the gateway breaker is open or half-open.
	BreakerTripped bool
	Reasons        []string
	Window         traffic.Counts
}

// Detector evaluates refresh outcomes and the breaker.
type Detector struct {
	tracker *traffic.Tracker
	cfg     Config
	breaker BreakerProbe
}

// New creates a detector. breaker may be nil when the gateway is not guarded.
func New(tracker *traffic.Tracker, cfg Config, breaker BreakerProbe) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.ErrorPct <= 0 {
		cfg.ErrorPct = 50
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	if tracker == nil {
		tracker = traffic.NewTracker(nil)
	}
	return &Detector{tracker: tracker, cfg: cfg, breaker: breaker}
}

// RecordRefresh records one store refresh outcome. Suitable as a store OnResult hook.
func (d *Detector) RecordRefresh(err error) {
	d.tracker.RecordErr(err)
}

// Check evaluates the current state.
func (d *Detector) Check() Status {
	st := Status{Window: d.tracker.Window(d.cfg.Window)}
	if d.breaker != nil {
		if s := d.breaker.BreakerState(); s != circuitbreaker.StateClosed {
			st.Degraded = true
			st.BreakerTripped = true
			st.Reasons = append(st.Reasons, "gateway circuit "+s.String())
		}
	}
	if st.Window.Total() >= d.cfg.MinSamples && st.Window.ErrorPct() >= float64(d.cfg.ErrorPct) {
		st.Degraded = true
		st.Reasons = append(st.Reasons, fmt.Sprintf("refresh errors %d/%d in %s", st.Window.Error, st.Window.Total(), d.cfg.Window))
	}
	return st
}
