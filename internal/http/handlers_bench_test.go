package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kjstillabower/station-monitor/internal/cache"
	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/service"
)

// benchGateway seeds n stations with one reading each.
func benchGateway(b *testing.B, n int) *gateway.MemoryGateway {
	b.Helper()
	gw := gateway.NewMemoryGateway()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%03d", i)
		if err := gw.Seed(gateway.TableStations, gateway.Record{
			"id": id, "name": "Station " + id, "latitude": 37.0 + float64(i)/100, "longitude": -122.0, "status": "normal",
		}); err != nil {
			b.Fatal(err)
		}
		if err := gw.Seed(gateway.TableReadings, gateway.Record{
			"id": "r" + id, "station_id": id, "timestamp": base, "tide_level": 0.5, "wave_height": 1.0,
			"wind_speed": 10.0, "wind_direction": 90, "water_temperature": 18.0, "water_quality_index": 80,
			"atmospheric_pressure": 1012.0,
		}); err != nil {
			b.Fatal(err)
		}
	}
	return gw
}

func benchRouter(b *testing.B, snapshots cache.Cache) http.Handler {
	b.Helper()
	svc := service.New(benchGateway(b, 200), service.Options{Cache: snapshots})
	if err := svc.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return NewRouter(NewHandler(svc, snapshots, nil, nil), RouterConfig{})
}

func benchServe(b *testing.B, h http.Handler, path string) {
	req := httptest.NewRequest("GET", path, nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

// BenchmarkHandler_GetSnapshot_CacheHit measures serving the cached snapshot.
func BenchmarkHandler_GetSnapshot_CacheHit(b *testing.B) {
	benchServe(b, benchRouter(b, cache.NewInMemoryCache()), "/api/snapshot")
}

// BenchmarkHandler_GetSnapshot_NoCache measures building the snapshot on every request.
func BenchmarkHandler_GetSnapshot_NoCache(b *testing.B) {
	benchServe(b, benchRouter(b, nil), "/api/snapshot")
}

// BenchmarkHandler_GetStationReading measures a single-station lookup.
func BenchmarkHandler_GetStationReading(b *testing.B) {
	benchServe(b, benchRouter(b, nil), "/api/stations/s100/reading")
}
