package store

import (
	"context"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
)

// ReadingCache holds the latest reading per station.
type ReadingCache struct {
	*state[map[string]models.Reading]
}

// latestReadingsQuery orders newest first. The id tie-break makes equal timestamps resolve
// the same way on every backend.
var latestReadingsQuery = gateway.Query{}.OrderBy("timestamp", true).OrderBy("id", true)

// NewReadingCache creates an empty cache backed by gw.
func NewReadingCache(gw gateway.Gateway, opts Options) *ReadingCache {
	fetch := func(ctx context.Context) (map[string]models.Reading, error) {
		recs, err := gw.Query(ctx, gateway.TableReadings, latestReadingsQuery)
		if err != nil {
			return nil, err
		}
		readings, err := gateway.DecodeAll(recs, gateway.DecodeReading)
		if err != nil {
			return nil, err
		}
		return FoldLatest(readings), nil
	}
	size := func(m map[string]models.Reading) int { return len(m) }
	return &ReadingCache{state: newState("readings", opts, fetch, size)}
}

// FoldLatest keeps the first reading seen per station. Given newest-first input, that is the
// most recent one.
func FoldLatest(readings []models.Reading) map[string]models.Reading {
	out := make(map[string]models.Reading)
	for _, r := range readings {
		if _, seen := out[r.StationID]; !seen {
			out[r.StationID] = r
		}
	}
	return out
}

// Get returns the cached reading for a station.
func (c *ReadingCache) Get(stationID string) (models.Reading, bool) {
	r, ok := c.get()[stationID]
	return r, ok
}

// All returns a copy of the cache keyed by station id.
func (c *ReadingCache) All() map[string]models.Reading {
	cur := c.get()
	out := make(map[string]models.Reading, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Len returns the number of stations with a reading.
func (c *ReadingCache) Len() int {
	return len(c.get())
}
