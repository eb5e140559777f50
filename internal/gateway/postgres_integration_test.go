//go:build integration
// +build integration

package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/testhelpers"
)

// TestPostgresGateway_RoundTrip_Integration verifies insert, ordered query, update and delete
// against a real database.
func TestPostgresGateway_RoundTrip_Integration(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	gw, cleanup := testhelpers.SetupPostgresGateway(t, cfg)
	defer cleanup()
	ctx := context.Background()

	stationID, err := gw.Insert(ctx, gateway.TableStations, gateway.Record{
		"name": "Harbor", "latitude": 37.8, "longitude": -122.4, "status": "normal",
	})
	if err != nil {
		t.Fatalf("Insert(station) error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := gw.Insert(ctx, gateway.TableReadings, gateway.Record{
			"station_id": stationID, "tide_level": float64(i), "wave_height": 1.0, "wind_speed": 5.0,
			"wind_direction": 90, "water_temperature": 17.0, "water_quality_index": 80,
			"atmospheric_pressure": 1012.0, "timestamp": time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("Insert(reading) error = %v", err)
		}
	}

	recs, err := gw.Query(ctx, gateway.TableReadings, gateway.Query{}.OrderBy("timestamp", true).OrderBy("id", true))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	readings, err := gateway.DecodeAll(recs, gateway.DecodeReading)
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if len(readings) != 2 || readings[0].TideLevel != 1 {
		t.Errorf("readings = %+v, want newest first", readings)
	}

	if err := gw.Update(ctx, gateway.TableStations, stationID, gateway.Record{"status": "warning"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := gw.Update(ctx, gateway.TableStations, "missing", gateway.Record{"status": "warning"}); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

// TestPostgresGateway_Subscribe_Integration verifies that table triggers deliver change events
// through LISTEN/NOTIFY.
func TestPostgresGateway_Subscribe_Integration(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	gw, cleanup := testhelpers.SetupPostgresGateway(t, cfg)
	defer cleanup()
	ctx := context.Background()

	events := make(chan gateway.Event, 4)
	sub, err := gw.Subscribe(ctx, gateway.TableAlerts, gateway.EventInsert, func(ev gateway.Event) { events <- ev })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := gw.Insert(ctx, gateway.TableAlerts, gateway.Record{"title": "t", "message": "m", "severity": "info"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind != gateway.EventInsert {
			t.Errorf("kind = %v, want insert", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
}
