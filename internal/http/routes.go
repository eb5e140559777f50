package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/station-monitor/internal/observability"
	"github.com/kjstillabower/station-monitor/internal/traffic"
)

// RouterConfig holds the middleware settings of the API routes.
type RouterConfig struct {
	Logger *zap.Logger
	// Limiter rate limits /api; nil disables it.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	// Requests records API outcomes and denials for the health body.
	Requests *traffic.Tracker
}

// NewRouter registers every route on a new router. /health and /metrics bypass the rate limit.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Requests))
	api.Use(OutcomeMiddleware(cfg.Requests))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}

	api.HandleFunc("/snapshot", h.GetSnapshot).Methods("GET")
	api.HandleFunc("/stations", h.GetStations).Methods("GET")
	api.HandleFunc("/stations/{id}", h.GetStation).Methods("GET")
	api.HandleFunc("/stations/{id}/reading", h.GetStationReading).Methods("GET")

	api.HandleFunc("/alerts", h.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts", h.CreateAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}", h.UpdateAlert).Methods("PATCH")
	api.HandleFunc("/alerts/{id}", h.DeleteAlert).Methods("DELETE")
	api.HandleFunc("/alerts/{id}/active", h.SetAlertActive).Methods("PUT")
	api.HandleFunc("/alerts/{id}/dismiss", h.DismissAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}/dismiss", h.RestoreAlert).Methods("DELETE")

	api.HandleFunc("/incidents", h.GetIncidents).Methods("GET")
	api.HandleFunc("/incidents", h.CreateIncident).Methods("POST")
	api.HandleFunc("/incidents/{id}/status", h.SetIncidentStatus).Methods("PUT")
	api.HandleFunc("/incidents/{id}/tasks", h.AddTask).Methods("POST")

	return router
}
