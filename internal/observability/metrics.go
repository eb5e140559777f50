package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (dashboard reload storms).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Snapshot reads should stay well under 50ms.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Backend gateway calls by backend, operation and result.
	GatewayCallsTotal *prometheus.CounterVec

	// Backend gateway latency. Refreshes are full re-fetches, so p95 here is the staleness window.
	GatewayCallDuration *prometheus.HistogramVec

	// Retry attempts for idempotent gateway reads. High values = unstable backend.
	GatewayRetriesTotal prometheus.Counter

	// Store refreshes by store and result (success, error, discarded).
	StoreRefreshesTotal *prometheus.CounterVec

	// Store refresh latency (query + decode + replace).
	StoreRefreshDuration *prometheus.HistogramVec

	// Number of entries held by each store after the last applied refresh.
	StoreEntries *prometheus.GaugeVec

	// Unix time of the last successful refresh per store. Alert on time() - value.
	StoreLastSuccess *prometheus.GaugeVec

	// Refreshes that started while another refresh of the same store was running.
	StoreRefreshOverlapTotal *prometheus.CounterVec

	// Refresh triggers by store and source (push, poll, generator, write, resync).
	StoreTriggersTotal *prometheus.CounterVec

	// Triggers folded into an already pending follow-up refresh.
	StoreTriggersCoalescedTotal *prometheus.CounterVec

	// Push events received from the gateway by table and kind.
	SubscriptionEventsTotal *prometheus.CounterVec

	// Subscriptions that could not be opened and fell back to polling.
	SubscriptionFallbacksTotal *prometheus.CounterVec

	// Generator ticks and synthesized readings by result.
	GeneratorTicksTotal    prometheus.Counter
	GeneratorReadingsTotal *prometheus.CounterVec

	// Records whose enum value was unknown and replaced with the fail-safe default.
	DecodeFallbacksTotal *prometheus.CounterVec

	// Snapshot cache operations by result (hit, miss, error on reads; set, set_error on publish).
	SnapshotCacheTotal *prometheus.CounterVec

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open) and transitions.
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Rate limit denials on the API.
	RateLimitDeniedTotal prometheus.Counter

	// Requests still in flight when shutdown began draining.
	ShutdownInFlightRequests prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayCallsTotal",
			Help: "Total number of backend gateway calls",
		},
		[]string{"backend", "op", "result"},
	)
	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewayCallDurationSeconds",
			Help:    "Backend gateway call latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"backend", "op"},
	)
	GatewayRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayRetriesTotal",
			Help: "Total number of retry attempts for gateway reads",
		},
	)
	StoreRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeRefreshesTotal",
			Help: "Store refreshes by result (success, error, discarded)",
		},
		[]string{"store", "result"},
	)
	StoreRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeRefreshDurationSeconds",
			Help:    "Store refresh latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"store"},
	)
	StoreEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storeEntries",
			Help: "Entries held by the store after the last applied refresh",
		},
		[]string{"store"},
	)
	StoreLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storeLastSuccessTimestampSeconds",
			Help: "Unix time of the last successful refresh",
		},
		[]string{"store"},
	)
	StoreRefreshOverlapTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeRefreshOverlapTotal",
			Help: "Refreshes started while another refresh of the same store was in flight",
		},
		[]string{"store"},
	)
	StoreTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeTriggersTotal",
			Help: "Refresh triggers by store and source",
		},
		[]string{"store", "source"},
	)
	StoreTriggersCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeTriggersCoalescedTotal",
			Help: "Triggers folded into a pending follow-up refresh",
		},
		[]string{"store"},
	)
	SubscriptionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptionEventsTotal",
			Help: "Push events received from the gateway",
		},
		[]string{"table", "kind"},
	)
	SubscriptionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptionFallbacksTotal",
			Help: "Subscriptions replaced by polling because they could not be opened",
		},
		[]string{"table"},
	)
	GeneratorTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generatorTicksTotal",
			Help: "Synthetic reading generator ticks",
		},
	)
	GeneratorReadingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generatorReadingsTotal",
			Help: "Synthetic readings written by result",
		},
		[]string{"result"},
	)
	DecodeFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decodeFallbacksTotal",
			Help: "Unknown enum values replaced with their fail-safe default",
		},
		[]string{"table", "field"},
	)
	SnapshotCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotCacheTotal",
			Help: "Snapshot cache reads and publications by result",
		},
		[]string{"result"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "Requests in flight when graceful shutdown started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		GatewayCallsTotal, GatewayCallDuration, GatewayRetriesTotal,
		StoreRefreshesTotal, StoreRefreshDuration, StoreEntries, StoreLastSuccess,
		StoreRefreshOverlapTotal, StoreTriggersTotal, StoreTriggersCoalescedTotal,
		SubscriptionEventsTotal, SubscriptionFallbacksTotal,
		GeneratorTicksTotal, GeneratorReadingsTotal,
		DecodeFallbacksTotal, SnapshotCacheTotal,
		CircuitBreakerState, CircuitBreakerTransitions,
		RateLimitDeniedTotal, ShutdownInFlightRequests,
	)
}

// RecordRefresh records one store refresh outcome and its duration.
func RecordRefresh(store, result string, d time.Duration) {
	StoreRefreshesTotal.WithLabelValues(store, result).Inc()
	StoreRefreshDuration.WithLabelValues(store).Observe(d.Seconds())
	if result == "success" {
		StoreLastSuccess.WithLabelValues(store).Set(float64(time.Now().Unix()))
	}
}

// RecordGatewayCall records one gateway call outcome and its duration.
func RecordGatewayCall(backend, op, result string, d time.Duration) {
	GatewayCallsTotal.WithLabelValues(backend, op, result).Inc()
	GatewayCallDuration.WithLabelValues(backend, op).Observe(d.Seconds())
}

// RecordCircuitBreakerTransition counts a state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records how many requests were in flight when draining started.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
