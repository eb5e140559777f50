package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/service"
)

const maxBodyBytes = 64 << 10

// decodeBody decodes a JSON body into v and writes 400 INVALID_BODY on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "invalid JSON body"
		if !errors.Is(err, io.EOF) {
			msg = fmt.Sprintf("invalid JSON body: %v", err)
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", msg)
		return false
	}
	return true
}

// writeServiceError maps a write failure to a status and code. Backend details are logged at
// debug level, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := http.StatusBadGateway, "BACKEND_ERROR", "backend write failed"
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, code, msg = http.StatusBadRequest, "INVALID_INPUT", err.Error()
	case errors.Is(err, gateway.ErrNotFound):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", "record not found"
	case errors.Is(err, circuitbreaker.ErrOpen):
		status, code, msg = http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "backend temporarily unavailable"
	case errors.Is(err, gateway.ErrRateLimited):
		status, code, msg = http.StatusServiceUnavailable, "BACKEND_RATE_LIMITED", "backend rate limited the write"
	case errors.Is(err, gateway.ErrUnauthorized):
		status, code, msg = http.StatusBadGateway, "BACKEND_REJECTED", "backend rejected the credentials"
	case errors.Is(err, context.DeadlineExceeded):
		status, code, msg = http.StatusGatewayTimeout, "TIMEOUT", "backend write timed out"
	}
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("write error", zap.Error(err), zap.String("code", code))
	}
	writeError(w, r, status, code, msg)
}

type createdResponse struct {
	ID string `json:"id"`
}

// CreateAlert handles POST /api/alerts.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var in models.AlertInput
	if !decodeBody(w, r, &in) {
		return
	}
	id, err := h.monitor.CreateAlert(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// UpdateAlert handles PATCH /api/alerts/{id}.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch models.AlertPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := h.monitor.UpdateAlert(r.Context(), id, patch); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAlertActive handles PUT /api/alerts/{id}/active with body {"active": bool}.
func (h *Handler) SetAlertActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Active *bool `json:"active"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Active == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "active is required")
		return
	}
	if err := h.monitor.SetAlertActive(r.Context(), id, *body.Active); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAlert handles DELETE /api/alerts/{id}.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.monitor.DeleteAlert(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateIncident handles POST /api/incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var in models.IncidentInput
	if !decodeBody(w, r, &in) {
		return
	}
	id, err := h.monitor.CreateIncident(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// SetIncidentStatus handles PUT /api/incidents/{id}/status with body {"status", "actor"}.
func (h *Handler) SetIncidentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status models.IncidentStatus `json:"status"`
		Actor  string                `json:"actor"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.monitor.SetIncidentStatus(r.Context(), id, body.Status, body.Actor); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTask handles POST /api/incidents/{id}/tasks.
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in models.TaskInput
	if !decodeBody(w, r, &in) {
		return
	}
	taskID, err := h.monitor.AddTask(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: taskID})
}
