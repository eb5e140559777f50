package store

import (
	"context"
	"sync"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
)

// AlertFeed holds the active alerts, newest first, plus a local set of dismissed ids.
// Dismissal only hides an alert from Visible; the backend record is untouched.
type AlertFeed struct {
	*state[[]models.Alert]

	dmu       sync.RWMutex
	dismissed map[string]struct{}
}

// NewAlertFeed creates an empty feed backed by gw.
func NewAlertFeed(gw gateway.Gateway, opts Options) *AlertFeed {
	fetch := func(ctx context.Context) ([]models.Alert, error) {
		q := gateway.Query{}.Eq("is_active", true).OrderBy("created_at", true)
		recs, err := gw.Query(ctx, gateway.TableAlerts, q)
		if err != nil {
			return nil, err
		}
		alerts, err := gateway.DecodeAll(recs, gateway.DecodeAlert)
		if err != nil {
			return nil, err
		}
		// the filter runs on the backend; drop anything that slipped through
		active := alerts[:0]
		for _, a := range alerts {
			if a.Active {
				active = append(active, a)
			}
		}
		return active, nil
	}
	size := func(a []models.Alert) int { return len(a) }
	return &AlertFeed{
		state:     newState("alerts", opts, fetch, size),
		dismissed: make(map[string]struct{}),
	}
}

// Alerts returns a copy of every active alert, dismissed or not.
func (f *AlertFeed) Alerts() []models.Alert {
	return append([]models.Alert(nil), f.get()...)
}

// Get returns the active alert with id.
func (f *AlertFeed) Get(id string) (models.Alert, bool) {
	for _, a := range f.get() {
		if a.ID == id {
			return a, true
		}
	}
	return models.Alert{}, false
}

// Visible returns active alerts that have not been dismissed locally.
func (f *AlertFeed) Visible() []models.Alert {
	all := f.get()
	f.dmu.RLock()
	defer f.dmu.RUnlock()
	out := make([]models.Alert, 0, len(all))
	for _, a := range all {
		if _, hidden := f.dismissed[a.ID]; !hidden {
			out = append(out, a)
		}
	}
	return out
}

// Dismiss hides an alert locally. It reports whether the alert is currently in the feed.
// The dismissal persists across refreshes.
func (f *AlertFeed) Dismiss(id string) bool {
	f.dmu.Lock()
	f.dismissed[id] = struct{}{}
	f.dmu.Unlock()
	_, ok := f.Get(id)
	return ok
}

// Restore undoes Dismiss.
func (f *AlertFeed) Restore(id string) {
	f.dmu.Lock()
	delete(f.dismissed, id)
	f.dmu.Unlock()
}

// IsDismissed reports whether id was dismissed locally.
func (f *AlertFeed) IsDismissed(id string) bool {
	f.dmu.RLock()
	defer f.dmu.RUnlock()
	_, ok := f.dismissed[id]
	return ok
}

// SeverityCounts counts active alerts per severity.
func (f *AlertFeed) SeverityCounts() map[models.Severity]int {
	return models.ComputeStats(nil, f.get()).BySeverity
}

// Len returns the number of active alerts.
func (f *AlertFeed) Len() int {
	return len(f.get())
}
