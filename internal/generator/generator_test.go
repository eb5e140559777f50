package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type staticStations []models.Station

func (s staticStations) Stations() []models.Station { return s }

type countingRefresher struct{ n atomic.Int32 }

func (c *countingRefresher) Trigger(string) { c.n.Add(1) }

func stations(n int) staticStations {
	out := make(staticStations, n)
	for i := range out {
		out[i] = models.Station{ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Station %d", i)}
	}
	return out
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// TestSynthesize_Ranges verifies every measurement stays in its range over many draws.
func TestSynthesize_Ranges(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		now := fixedNow.Add(time.Duration(i) * time.Minute)
		r := Synthesize(rng, "s", now, false)

		if r.WindDirection < 0 || r.WindDirection > 359 {
			t.Fatalf("wind direction %d out of [0, 359]", r.WindDirection)
		}
		if r.WaveHeight < 0.5 || r.WaveHeight > 3.5 {
			t.Fatalf("wave height %v out of [0.5, 3.5]", r.WaveHeight)
		}
		if r.WindSpeed < 5 || r.WindSpeed > 30 {
			t.Fatalf("wind speed %v out of [5, 30]", r.WindSpeed)
		}
		if r.WaterTemperature < 16 || r.WaterTemperature > 24 {
			t.Fatalf("water temperature %v out of [16, 24]", r.WaterTemperature)
		}
		if r.WaterQualityIndex < 60 || r.WaterQualityIndex > 99 {
			t.Fatalf("quality index %d out of [60, 99]", r.WaterQualityIndex)
		}
		if r.AtmosphericPressure < 1000 || r.AtmosphericPressure > 1030 {
			t.Fatalf("pressure %v out of [1000, 1030]", r.AtmosphericPressure)
		}
		if r.TideLevel < -3.5 || r.TideLevel > 3.5 {
			t.Fatalf("tide %v out of [-3.5, 3.5]", r.TideLevel)
		}
		if r.TideLevel*100 != math.Round(r.TideLevel*100) {
			t.Fatalf("tide %v has more than two decimals", r.TideLevel)
		}
	}
}

// TestSynthesize_ClampTide verifies the optional clamp bounds.
func TestSynthesize_ClampTide(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 2000; i++ {
		r := Synthesize(rng, "s", fixedNow.Add(time.Duration(i)*time.Hour), true)
		if r.TideLevel < TideMin || r.TideLevel > TideMax {
			t.Fatalf("clamped tide %v out of [%v, %v]", r.TideLevel, TideMin, TideMax)
		}
	}
}

// TestRound verifies half-up rounding.
func TestRound(t *testing.T) {
	tests := []struct {
		x    float64
		d    int
		want float64
	}{
		{1.005, 1, 1.0},
		{1.25, 1, 1.3},
		{-1.25, 1, -1.2},
		{2.345, 0, 2},
		{0.125, 2, 0.13},
	}
	for _, tt := range tests {
		if got := round(tt.x, tt.d); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("round(%v, %d) = %v, want %v", tt.x, tt.d, got, tt.want)
		}
	}
}

// TestTick_SelectsCeilThirdOfStations verifies the selection size for several station counts.
func TestTick_SelectsCeilThirdOfStations(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 9, 10} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			gw := gateway.NewMemoryGateway()
			ref := &countingRefresher{}
			g := New(gw, stations(n), ref, Config{}, nil,
				WithRand(rand.New(rand.NewSource(int64(n)))),
				WithClock(func() time.Time { return fixedNow }),
			)
			if err := g.Tick(context.Background()); err != nil {
				t.Fatalf("Tick() error = %v", err)
			}
			want := int(math.Ceil(float64(n) / 3))
			if got := gw.Len(gateway.TableReadings); got != want {
				t.Errorf("inserted %d readings, want %d", got, want)
			}
			if ref.n.Load() != 1 {
				t.Errorf("reading store triggered %d times, want 1", ref.n.Load())
			}
		})
	}
}

// TestTick_DistinctStationsPerTick verifies a station is never picked twice in one tick.
func TestTick_DistinctStationsPerTick(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	all := stations(12)
	for i := 0; i < 50; i++ {
		seen := map[string]bool{}
		for _, st := range pick(rng, all) {
			if seen[st.ID] {
				t.Fatalf("station %s picked twice", st.ID)
			}
			seen[st.ID] = true
		}
	}
}

// TestTick_NoStationsIsNoop verifies that an empty registry inserts and triggers nothing.
func TestTick_NoStationsIsNoop(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	ref := &countingRefresher{}
	g := New(gw, staticStations(nil), ref, Config{}, nil)
	if err := g.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if gw.Len(gateway.TableReadings) != 0 || ref.n.Load() != 0 {
		t.Error("empty tick should do nothing")
	}
}

// TestTick_InsertFailuresAreLoggedAndStillTrigger verifies that failures are aggregated, logged
// per station, and the reading store is still refreshed.
func TestTick_InsertFailuresAreLoggedAndStillTrigger(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	gw.FailWith(gateway.TableReadings, errors.New("insert rejected"))
	ref := &countingRefresher{}
	core, logs := observer.New(zap.WarnLevel)
	g := New(gw, stations(6), ref, Config{}, zap.New(core), WithRand(rand.New(rand.NewSource(3))))

	err := g.Tick(context.Background())
	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("errors = %d, want 2 (ceil(6/3))", got)
	}
	if logs.FilterMessage("insert synthetic reading failed").Len() != 2 {
		t.Errorf("expected one warning per failed station, got %d", logs.Len())
	}
	if ref.n.Load() != 1 {
		t.Error("reading store should be triggered even when inserts fail")
	}
}

// TestTick_Deterministic verifies that equal seeds and clocks produce equal readings.
func TestTick_Deterministic(t *testing.T) {
	run := func() map[string]float64 {
		gw := gateway.NewMemoryGateway()
		g := New(gw, stations(9), &countingRefresher{}, Config{}, nil,
			WithRand(rand.New(rand.NewSource(42))),
			WithClock(func() time.Time { return fixedNow }),
		)
		_ = g.Tick(context.Background())
		recs, _ := gw.Query(context.Background(), gateway.TableReadings, gateway.Query{})
		out := map[string]float64{}
		for _, rec := range recs {
			out[rec["station_id"].(string)] = rec["tide_level"].(float64)
		}
		return out
	}
	a, b := run(), run()
	if len(a) != 3 || fmt.Sprint(a) != fmt.Sprint(b) {
		t.Errorf("runs differ: %v vs %v", a, b)
	}
}
