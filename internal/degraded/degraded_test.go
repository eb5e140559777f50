package degraded

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/station-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/station-monitor/internal/traffic"
)

type fixedBreaker circuitbreaker.State

func (f fixedBreaker) BreakerState() circuitbreaker.State { return circuitbreaker.State(f) }

// TestCheck_HealthyWhenNothingRecorded verifies the empty case.
func TestCheck_HealthyWhenNothingRecorded(t *testing.T) {
	d := New(nil, Config{}, fixedBreaker(circuitbreaker.StateClosed))
	if st := d.Check(); st.Degraded {
		t.Errorf("Check() = %+v, want healthy", st)
	}
}

// TestCheck_ErrorRateThreshold verifies the error percentage and sample minimum.
func TestCheck_ErrorRateThreshold(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		outcomes []error
		want     bool
	}{
		{"below min samples", []error{boom, boom}, false},
		{"all errors", []error{boom, boom, boom}, true},
		{"below threshold", []error{boom, nil, nil, nil}, false},
		{"at threshold", []error{boom, boom, nil, nil}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(traffic.NewTracker(nil), Config{Window: time.Minute, ErrorPct: 50, MinSamples: 3}, nil)
			for _, err := range tc.outcomes {
				d.RecordRefresh(err)
			}
			st := d.Check()
			if st.Degraded != tc.want {
				t.Errorf("Degraded = %v, want %v (%+v)", st.Degraded, tc.want, st.Window)
			}
		})
	}
}

// TestCheck_OpenBreaker verifies that a non-closed breaker degrades regardless of refreshes.
func TestCheck_OpenBreaker(t *testing.T) {
	d := New(nil, Config{}, fixedBreaker(circuitbreaker.StateOpen))
	d.RecordRefresh(nil)
	st := d.Check()
	if !st.Degraded || !st.BreakerTripped || len(st.Reasons) != 1 || !strings.Contains(st.Reasons[0], "circuit") {
		t.Errorf("Check() = %+v, want degraded by breaker", st)
	}
}

// TestCheck_WindowExpires verifies that old errors stop counting.
func TestCheck_WindowExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := traffic.NewTracker(func() time.Time { return now })
	d := New(tr, Config{Window: time.Minute, ErrorPct: 50, MinSamples: 1}, nil)
	d.RecordRefresh(errors.New("boom"))
	if !d.Check().Degraded {
		t.Fatal("expected degraded right after the error")
	}
	now = now.Add(2 * time.Minute)
	if d.Check().Degraded {
		t.Error("expected healthy once the error leaves the window")
	}
}
