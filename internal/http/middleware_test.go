package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/station-monitor/internal/traffic"
)

func okHandler(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

// TestCorrelationIDMiddleware verifies that a client id is echoed, a missing one is generated,
// and the request logger carries it.
func TestCorrelationIDMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		requestLogger(r, zap.NewNop()).Info("inside")
		if correlationID(r) == "" {
			t.Error("correlation id missing from context")
		}
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if got := logs.All()[0].ContextMap()["correlation_id"]; got != "client-provided-id" {
		t.Errorf("logged correlation_id = %v", got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	if len(w.Header().Get("X-Correlation-ID")) != 36 {
		t.Errorf("generated X-Correlation-ID = %q, want a uuid", w.Header().Get("X-Correlation-ID"))
	}
}

// TestGetRoute verifies that metrics labels use route templates, not concrete ids.
func TestGetRoute(t *testing.T) {
	var got string
	router := mux.NewRouter()
	router.HandleFunc("/api/stations/{id}/reading", func(w http.ResponseWriter, r *http.Request) {
		got = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/stations/abc-123/reading", nil))
	if got != "/api/stations/{id}/reading" {
		t.Errorf("getRoute() = %q, want template", got)
	}

	if got := getRoute(httptest.NewRequest("GET", "/nowhere", nil)); got != "unmatched" {
		t.Errorf("getRoute() without route = %q, want unmatched", got)
	}
}

// TestRateLimitMiddleware_Returns429WhenExceeded verifies the 429 body and that denials are
// counted on the tracker.
func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	tracker := traffic.NewTracker(nil)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(rate.NewLimiter(1, 2), tracker))
	router.HandleFunc("/api/x", okHandler)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/x", nil))
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var errResp errorResponse
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" || errResp.Error.RequestID == "" {
			t.Errorf("error = %+v", errResp.Error)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("Retry-After header missing")
		}
	}
	if c := tracker.Window(time.Minute); c.Denied != 1 {
		t.Errorf("Denied = %d, want 1", c.Denied)
	}
}

// TestRateLimitMiddleware_NilLimiterPassesThrough verifies that a nil limiter allows everything.
func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	h := RateLimitMiddleware(nil, nil)(http.HandlerFunc(okHandler))
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/x", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	}
}

// TestOutcomeMiddleware verifies that 5xx responses count as errors and everything else as
// success.
func TestOutcomeMiddleware(t *testing.T) {
	tracker := traffic.NewTracker(nil)
	mw := OutcomeMiddleware(tracker)
	for _, code := range []int{200, 404, 502, 503} {
		code := code
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) }))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/x", nil))
	}
	c := tracker.Window(time.Minute)
	if c.Success != 2 || c.Error != 2 {
		t.Errorf("counts = %+v, want 2 success 2 error", c)
	}
}

// TestTimeoutMiddleware_SetsDeadline verifies that handlers see a request deadline.
func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/x", nil))
	if !ok || deadline.Sub(start) > 50*time.Millisecond+10*time.Millisecond {
		t.Errorf("deadline = %v (set %v), want about 50ms from start", deadline.Sub(start), ok)
	}
}

// TestNewRouter_HealthBypassesRateLimit verifies that /health and /metrics stay reachable
// while /api is rate limited.
func TestNewRouter_HealthBypassesRateLimit(t *testing.T) {
	svc := startMonitor(t, seedGateway(t))
	router := NewRouter(NewHandler(svc, nil, nil, nil), RouterConfig{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	if w := do(t, router, "GET", "/api/stations", ""); w.Code != http.StatusOK {
		t.Fatalf("first api request = %d, want 200", w.Code)
	}
	if w := do(t, router, "GET", "/api/stations", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second api request = %d, want 429", w.Code)
	}
	for _, path := range []string{"/health", "/metrics"} {
		if w := do(t, router, "GET", path, ""); w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}
}

// TestNewRouter_MethodNotAllowed verifies that routes are bound to their methods.
func TestNewRouter_MethodNotAllowed(t *testing.T) {
	svc := startMonitor(t, seedGateway(t))
	router := NewRouter(NewHandler(svc, nil, nil, nil), RouterConfig{})

	if w := do(t, router, "POST", "/api/stations", "{}"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/stations = %d, want 405", w.Code)
	}
}
