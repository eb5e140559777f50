package store

import (
	"context"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
)

// StationRegistry mirrors the monitoring_stations table ordered by name.
type StationRegistry struct {
	*state[[]models.Station]
}

// NewStationRegistry creates an empty registry backed by gw.
func NewStationRegistry(gw gateway.Gateway, opts Options) *StationRegistry {
	fetch := func(ctx context.Context) ([]models.Station, error) {
		recs, err := gw.Query(ctx, gateway.TableStations, gateway.Query{}.OrderBy("name", false))
		if err != nil {
			return nil, err
		}
		return gateway.DecodeAll(recs, gateway.DecodeStation)
	}
	size := func(s []models.Station) int { return len(s) }
	return &StationRegistry{state: newState("stations", opts, fetch, size)}
}

// Stations returns a copy of the registry in name order.
func (r *StationRegistry) Stations() []models.Station {
	return append([]models.Station(nil), r.get()...)
}

// Get returns the station with id.
func (r *StationRegistry) Get(id string) (models.Station, bool) {
	for _, st := range r.get() {
		if st.ID == id {
			return st, true
		}
	}
	return models.Station{}, false
}

// Centroid returns the mean station position, or the fallback when the registry is empty.
func (r *StationRegistry) Centroid() models.Coordinate {
	return models.Centroid(r.get())
}

// StatusCounts counts stations per status.
func (r *StationRegistry) StatusCounts() map[models.StationStatus]int {
	return models.ComputeStats(r.get(), nil).ByStatus
}

// Len returns the number of stations.
func (r *StationRegistry) Len() int {
	return len(r.get())
}
