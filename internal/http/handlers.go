package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/station-monitor/internal/cache"
	"github.com/kjstillabower/station-monitor/internal/degraded"
	"github.com/kjstillabower/station-monitor/internal/lifecycle"
	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"github.com/kjstillabower/station-monitor/internal/service"
	"github.com/kjstillabower/station-monitor/internal/traffic"
	"github.com/kjstillabower/station-monitor/internal/validation"
)

// HealthConfig holds the inputs of the health handler. Every field is optional.
type HealthConfig struct {
	Detector *degraded.Detector
	// CachePing is called to check cache reachability. Set when the cache is memcached.
	CachePing func() error
	// Requests and RequestWindow report recent API traffic in the health body.
	Requests      *traffic.Tracker
	RequestWindow time.Duration
	StartTime     time.Time
	Version       string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	monitor          *service.MonitorService
	snapshots        cache.Cache
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. snapshots is the cache the monitor publishes to; nil always
// builds from the monitor.
func NewHandler(
	monitor *service.MonitorService,
	snapshots cache.Cache,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		monitor:      monitor,
		snapshots:    snapshots,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetSnapshot handles GET /api/snapshot. The published snapshot is served when present; otherwise
// one is built from the stores. Only the monitor writes the cache, under its publish lock, so a
// request never replaces a newer publication with an older build.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots != nil {
		snap, ok, err := h.snapshots.Get(r.Context(), cache.SnapshotKey)
		switch {
		case err != nil:
			observability.SnapshotCacheTotal.WithLabelValues("error").Inc()
			requestLogger(r, h.logger).Debug("snapshot cache get failed", zap.Error(err))
		case ok:
			observability.SnapshotCacheTotal.WithLabelValues("hit").Inc()
			writeJSON(w, http.StatusOK, snap)
			return
		default:
			observability.SnapshotCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

type stationsResponse struct {
	Stations []models.Station  `json:"stations"`
	Center   models.Coordinate `json:"center"`
	Sync     models.SyncInfo   `json:"sync"`
	Counts   map[string]int    `json:"counts"`
}

// GetStations handles GET /api/stations.
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	reg := h.monitor.Registry()
	counts := make(map[string]int)
	for status, n := range reg.StatusCounts() {
		counts[string(status)] = n
	}
	writeJSON(w, http.StatusOK, stationsResponse{
		Stations: reg.Stations(),
		Center:   reg.Centroid(),
		Sync:     reg.Status(),
		Counts:   counts,
	})
}

type stationResponse struct {
	models.Station
	Reading *models.Reading `json:"reading,omitempty"`
}

// GetStation handles GET /api/stations/{id}. The latest reading is attached when one exists.
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, found := h.monitor.Registry().Get(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "STATION_NOT_FOUND", "station not found")
		return
	}
	resp := stationResponse{Station: st}
	if rd, ok := h.monitor.Readings().Get(id); ok {
		resp.Reading = &rd
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStationReading handles GET /api/stations/{id}/reading.
func (h *Handler) GetStationReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rd, found := h.monitor.Readings().Get(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "NO_READING", "no reading for station")
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

type alertView struct {
	models.Alert
	Dismissed bool `json:"dismissed"`
}

// GetAlerts handles GET /api/alerts. Locally dismissed alerts are left out unless
// include_dismissed=true.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	feed := h.monitor.Alerts()
	includeDismissed := r.URL.Query().Get("include_dismissed") == "true"

	var alerts []models.Alert
	if includeDismissed {
		alerts = feed.Alerts()
	} else {
		alerts = feed.Visible()
	}
	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, alertView{Alert: a, Dismissed: feed.IsDismissed(a.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": views,
		"sync":   feed.Status(),
	})
}

// DismissAlert handles POST /api/alerts/{id}/dismiss.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !h.monitor.DismissAlert(id) {
		writeError(w, r, http.StatusNotFound, "ALERT_NOT_FOUND", "alert not in the active feed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreAlert handles DELETE /api/alerts/{id}/dismiss.
func (h *Handler) RestoreAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.monitor.RestoreAlert(id)
	w.WriteHeader(http.StatusNoContent)
}

// GetIncidents handles GET /api/incidents. status=open limits the list to unresolved incidents.
func (h *Handler) GetIncidents(w http.ResponseWriter, r *http.Request) {
	board := h.monitor.Incidents()
	var incidents []models.Incident
	switch r.URL.Query().Get("status") {
	case "", "all":
		incidents = board.Incidents()
	case "open":
		incidents = board.Open()
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_STATUS", "status must be open or all")
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"sync":      board.Status(),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, deg := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	for name, info := range h.monitor.StoreStatus() {
		checks["store:"+name] = checkValue(info.Error == "")
	}
	if deg != nil {
		checks["gateway"] = checkValue(!deg.BreakerTripped)
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = checkValue(h.healthConfig.CachePing() == nil)
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "station-monitor",
		"version":   "dev",
		"checks":    checks,
		"channels":  h.monitor.ChannelModes(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if deg != nil && len(deg.Reasons) > 0 {
		resp["reasons"] = deg.Reasons
	}
	if h.healthConfig != nil {
		if h.healthConfig.Version != "" {
			resp["version"] = h.healthConfig.Version
		}
		if !h.healthConfig.StartTime.IsZero() {
			resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
		}
		if h.healthConfig.Requests != nil {
			window := h.healthConfig.RequestWindow
			if window <= 0 {
				window = time.Minute
			}
			c := h.healthConfig.Requests.Window(window)
			resp["requests"] = map[string]interface{}{
				"window":  window.String(),
				"success": c.Success,
				"error":   c.Error,
				"denied":  c.Denied,
			}
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down, starting, degraded, healthy.
// The degraded status is returned for the checks section when a detector is configured.
func (h *Handler) computeHealthStatus() (healthResult, *degraded.Status) {
	var deg *degraded.Status
	if h.healthConfig != nil && h.healthConfig.Detector != nil {
		st := h.healthConfig.Detector.Check()
		deg = &st
	}

	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, deg
	}
	if lifecycle.Current() == lifecycle.PhaseStarting || !h.monitor.Running() {
		return healthResult{"starting", http.StatusServiceUnavailable, "initial_sync"}, deg
	}
	if deg != nil && deg.Degraded {
		return healthResult{"degraded", http.StatusServiceUnavailable, deg.Reasons[0]}, deg
	}
	return healthResult{"healthy", http.StatusOK, ""}, deg
}

func checkValue(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// pathID validates the {id} route variable and writes 400 INVALID_ID when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := validation.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return "", false
	}
	return id, true
}

// requestLogger returns the request-scoped logger, falling back to the handler logger.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}
