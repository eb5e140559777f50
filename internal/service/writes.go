package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/store"
	"github.com/kjstillabower/station-monitor/internal/validation"
)

// ErrInvalidInput wraps every payload validation failure of the write path.
var ErrInvalidInput = errors.New("invalid input")

const (
	maxTitleLen   = 200
	maxMessageLen = 4000
	maxActorLen   = 128
)

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// loggerFromContext returns the request-scoped logger stored by the HTTP middleware, or nil.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value("logger").(*zap.Logger); ok {
		return l
	}
	return nil
}

func (s *MonitorService) log(ctx context.Context) *zap.Logger {
	if l := loggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// written logs the outcome of a backend write and, on success, triggers the store that mirrors
// the table. Local state is never mutated speculatively.
func (s *MonitorService) written(ctx context.Context, op, id string, err error, targets ...store.Store) error {
	logger := s.log(ctx)
	if err != nil {
		logger.Warn("backend write failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.Info("backend write", zap.String("op", op), zap.String("id", id))
	for _, t := range targets {
		t.Trigger("write")
	}
	return nil
}

func validSeverity(sev models.Severity) error {
	if _, ok := models.ParseSeverity(string(sev)); !ok {
		return fmt.Errorf("severity: unknown value %q", sev)
	}
	return nil
}

// CreateAlert issues a new alert and returns its backend id.
func (s *MonitorService) CreateAlert(ctx context.Context, in models.AlertInput) (string, error) {
	var err error
	if in.Title, err = validation.ValidateText("title", in.Title, maxTitleLen); err != nil {
		return "", invalid(err)
	}
	if in.Message, err = validation.ValidateText("message", in.Message, maxMessageLen); err != nil {
		return "", invalid(err)
	}
	if err := validSeverity(in.Severity); err != nil {
		return "", invalid(err)
	}
	if in.AffectedStations, err = validation.ValidateIDs("affectedStations", in.AffectedStations); err != nil {
		return "", invalid(err)
	}
	if in.CreatedBy != "" {
		if in.CreatedBy, err = validation.ValidateText("createdBy", in.CreatedBy, maxActorLen); err != nil {
			return "", invalid(err)
		}
	}

	id, err := s.gw.Insert(ctx, gateway.TableAlerts, gateway.EncodeAlertInput(in))
	return id, s.written(ctx, "create alert", id, err, s.alerts)
}

// UpdateAlert applies a partial update to an alert.
func (s *MonitorService) UpdateAlert(ctx context.Context, id string, patch models.AlertPatch) error {
	id, err := validation.ValidateID(id)
	if err != nil {
		return invalid(err)
	}
	if patch.Empty() {
		return invalid(ErrEmptyPatch)
	}
	if patch.Title != nil {
		v, err := validation.ValidateText("title", *patch.Title, maxTitleLen)
		if err != nil {
			return invalid(err)
		}
		patch.Title = &v
	}
	if patch.Message != nil {
		v, err := validation.ValidateText("message", *patch.Message, maxMessageLen)
		if err != nil {
			return invalid(err)
		}
		patch.Message = &v
	}
	if patch.Severity != nil {
		if err := validSeverity(*patch.Severity); err != nil {
			return invalid(err)
		}
	}
	if patch.AffectedStations != nil {
		if patch.AffectedStations, err = validation.ValidateIDs("affectedStations", patch.AffectedStations); err != nil {
			return invalid(err)
		}
	}

	err = s.gw.Update(ctx, gateway.TableAlerts, id, gateway.EncodeAlertPatch(patch))
	return s.written(ctx, "update alert", id, err, s.alerts)
}

// SetAlertActive activates or deactivates an alert. Deactivated alerts leave the feed on the
// next refresh.
func (s *MonitorService) SetAlertActive(ctx context.Context, id string, active bool) error {
	id, err := validation.ValidateID(id)
	if err != nil {
		return invalid(err)
	}
	err = s.gw.Update(ctx, gateway.TableAlerts, id, gateway.EncodeAlertPatch(models.AlertPatch{Active: &active}))
	return s.written(ctx, "set alert active", id, err, s.alerts)
}

// DeleteAlert removes an alert from the backend.
func (s *MonitorService) DeleteAlert(ctx context.Context, id string) error {
	id, err := validation.ValidateID(id)
	if err != nil {
		return invalid(err)
	}
	err = s.gw.Delete(ctx, gateway.TableAlerts, id)
	return s.written(ctx, "delete alert", id, err, s.alerts)
}

// CreateIncident opens an incident in the active state and returns its backend id.
func (s *MonitorService) CreateIncident(ctx context.Context, in models.IncidentInput) (string, error) {
	var err error
	if in.Title, err = validation.ValidateText("title", in.Title, maxTitleLen); err != nil {
		return "", invalid(err)
	}
	if in.Description, err = validation.ValidateText("description", in.Description, maxMessageLen); err != nil {
		return "", invalid(err)
	}
	if err := validSeverity(in.Severity); err != nil {
		return "", invalid(err)
	}
	if in.RelatedStations, err = validation.ValidateIDs("relatedStations", in.RelatedStations); err != nil {
		return "", invalid(err)
	}

	id, err := s.gw.Insert(ctx, gateway.TableIncidents, gateway.EncodeIncidentInput(in))
	return id, s.written(ctx, "create incident", id, err, s.incidents)
}

// SetIncidentStatus moves an incident to status. Resolving records actor and the resolution
// time; any other status clears both.
func (s *MonitorService) SetIncidentStatus(ctx context.Context, id string, status models.IncidentStatus, actor string) error {
	id, err := validation.ValidateID(id)
	if err != nil {
		return invalid(err)
	}
	if _, ok := models.ParseIncidentStatus(string(status)); !ok {
		return invalid(fmt.Errorf("status: unknown value %q", status))
	}
	if actor != "" {
		if actor, err = validation.ValidateText("actor", actor, maxActorLen); err != nil {
			return invalid(err)
		}
	}
	err = s.gw.Update(ctx, gateway.TableIncidents, id, gateway.EncodeIncidentStatus(status, actor, s.now()))
	return s.written(ctx, "set incident status", id, err, s.incidents)
}

// AddTask attaches a pending task to an incident and returns its backend id.
func (s *MonitorService) AddTask(ctx context.Context, incidentID string, in models.TaskInput) (string, error) {
	incidentID, err := validation.ValidateID(incidentID)
	if err != nil {
		return "", invalid(err)
	}
	if in.Title, err = validation.ValidateText("title", in.Title, maxTitleLen); err != nil {
		return "", invalid(err)
	}
	if _, ok := s.incidents.Get(incidentID); !ok {
		recs, err := s.gw.Query(ctx, gateway.TableIncidents, gateway.Query{Limit: 1}.Eq("id", incidentID))
		if err == nil && len(recs) == 0 {
			err = fmt.Errorf("incident %s: %w", incidentID, gateway.ErrNotFound)
		}
		if err != nil {
			return "", s.written(ctx, "add task", incidentID, err)
		}
	}

	id, err := s.gw.Insert(ctx, gateway.TableTasks, gateway.EncodeTaskInput(incidentID, in))
	return id, s.written(ctx, "add task", id, err, s.incidents)
}
