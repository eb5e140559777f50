// Package traffic keeps sliding windows of outcomes: store refreshes (success or error) and
// API rate-limit denials. It is the single source for degraded detection.
package traffic

import (
	"sync"
	"time"
)

// maxAge bounds how long outcomes are retained regardless of the queried window.
const maxAge = 15 * time.Minute

// Outcome classifies one recorded event.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
)

// Counts are outcome totals within a window.
type Counts struct {
	Success int
	Error   int
	Denied  int
}

// Total is successes plus errors. Denials are excluded so they never dilute the error rate.
func (c Counts) Total() int {
	return c.Success + c.Error
}

// ErrorPct returns the error share of Total as a percentage, 0 when nothing was recorded.
func (c Counts) ErrorPct() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Error) * 100 / float64(c.Total())
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker maintains a time-ordered log of outcomes. The zero value is ready to use.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

// NewTracker creates a tracker using now as its clock; nil means time.Now.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// RecordErr records Success for a nil err and Error otherwise.
func (t *Tracker) RecordErr(err error) {
	if err != nil {
		t.Record(Error)
		return
	}
	t.Record(Success)
}

// Window returns the outcome counts of the last window.
func (t *Tracker) Window(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	var c Counts
	for i := len(t.events) - 1; i >= 0; i-- {
		ev := t.events[i]
		if ev.at.Before(cutoff) {
			break
		}
		switch ev.outcome {
		case Success:
			c.Success++
		case Error:
			c.Error++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
}

// pruneLocked drops events older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
