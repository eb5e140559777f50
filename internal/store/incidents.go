package store

import (
	"context"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
	"golang.org/x/sync/errgroup"
)

// IncidentBoard holds incidents, newest first, each with its tasks attached.
type IncidentBoard struct {
	*state[[]models.Incident]
}

// NewIncidentBoard creates an empty board backed by gw. Incidents and tasks are fetched
// concurrently; both must succeed for the board to be replaced.
func NewIncidentBoard(gw gateway.Gateway, opts Options) *IncidentBoard {
	fetch := func(ctx context.Context) ([]models.Incident, error) {
		var incidents []models.Incident
		var tasks []models.Task

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			recs, err := gw.Query(gctx, gateway.TableIncidents, gateway.Query{}.OrderBy("created_at", true))
			if err != nil {
				return err
			}
			incidents, err = gateway.DecodeAll(recs, gateway.DecodeIncident)
			return err
		})
		g.Go(func() error {
			recs, err := gw.Query(gctx, gateway.TableTasks, gateway.Query{}.OrderBy("created_at", true))
			if err != nil {
				return err
			}
			tasks, err = gateway.DecodeAll(recs, gateway.DecodeTask)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return attachTasks(incidents, tasks), nil
	}
	size := func(in []models.Incident) int { return len(in) }
	return &IncidentBoard{state: newState("incidents", opts, fetch, size)}
}

func attachTasks(incidents []models.Incident, tasks []models.Task) []models.Incident {
	byIncident := make(map[string][]models.Task, len(incidents))
	for _, t := range tasks {
		byIncident[t.IncidentID] = append(byIncident[t.IncidentID], t)
	}
	for i := range incidents {
		incidents[i].Tasks = byIncident[incidents[i].ID]
	}
	return incidents
}

// Incidents returns a copy of the board.
func (b *IncidentBoard) Incidents() []models.Incident {
	return append([]models.Incident(nil), b.get()...)
}

// Get returns the incident with id.
func (b *IncidentBoard) Get(id string) (models.Incident, bool) {
	for _, in := range b.get() {
		if in.ID == id {
			return in, true
		}
	}
	return models.Incident{}, false
}

// Open returns incidents that are not resolved.
func (b *IncidentBoard) Open() []models.Incident {
	var out []models.Incident
	for _, in := range b.get() {
		if in.Status != models.IncidentResolved {
			out = append(out, in)
		}
	}
	return out
}
