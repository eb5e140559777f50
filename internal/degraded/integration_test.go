//go:build integration
// +build integration

package degraded

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/station-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/store"
	testhelpers "github.com/kjstillabower/station-monitor/internal/testhelpers"
	"github.com/kjstillabower/station-monitor/internal/traffic"
)

// TestIntegration_DegradedAfterBackendLoss verifies that refreshes against a live database keep
// the detector healthy, and that losing the database degrades it through both the error rate
// and the breaker.
func TestIntegration_DegradedAfterBackendLoss(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	pg, cleanup := testhelpers.SetupPostgresGateway(t, cfg)
	defer cleanup()

	guarded := gateway.NewGuarded(pg, "postgres", circuitbreaker.Config{FailureThreshold: 3, Timeout: time.Minute})
	d := New(traffic.NewTracker(nil), Config{Window: time.Minute, ErrorPct: 50, MinSamples: 3}, guarded)
	stations := store.NewStationRegistry(guarded, store.Options{})
	stations.OnResult(d.RecordRefresh)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := stations.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	if st := d.Check(); st.Degraded {
		t.Fatalf("Check() = %+v, want healthy", st)
	}

	pg.Close()
	for i := 0; i < 6; i++ {
		_ = stations.Refresh(ctx)
	}
	st := d.Check()
	if !st.Degraded {
		t.Fatalf("Check() = %+v, want degraded after database loss", st)
	}
	if guarded.BreakerState() != circuitbreaker.StateOpen {
		t.Errorf("breaker = %v, want open", guarded.BreakerState())
	}
}
