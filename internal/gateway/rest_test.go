package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestREST(t *testing.T, url string) *RESTGateway {
	t.Helper()
	g, err := NewRESTGateway(RESTConfig{
		BaseURL:        url,
		APIKey:         "test-key-123",
		Timeout:        time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRESTGateway() error = %v", err)
	}
	return g
}

func TestNewRESTGateway_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RESTConfig
		wantErr bool
	}{
		{"missing key", RESTConfig{BaseURL: "https://db.example.com"}, true},
		{"bad url", RESTConfig{BaseURL: "not a url", APIKey: "k"}, true},
		{"valid", RESTConfig{BaseURL: "https://db.example.com/", APIKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRESTGateway(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRESTGateway() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestRESTGateway_QueryBuildsPostgRESTRequest verifies path, filter, ordering and auth headers.
func TestRESTGateway_QueryBuildsPostgRESTRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/alerts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("is_active") != "eq.true" || q.Get("order") != "created_at.desc" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "test-key-123" || r.Header.Get("Authorization") != "Bearer test-key-123" {
			t.Error("auth headers missing")
		}
		if r.Header.Get("X-Correlation-ID") != "corr-1" {
			t.Errorf("correlation id = %q", r.Header.Get("X-Correlation-ID"))
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "a1", "severity": "warning"}})
	}))
	defer server.Close()

	g := newTestREST(t, server.URL)
	ctx := context.WithValue(context.Background(), "correlation_id", "corr-1")
	recs, err := g.Query(ctx, TableAlerts, Query{}.Eq("is_active", true).OrderBy("created_at", true))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(recs) != 1 || recs[0]["id"] != "a1" {
		t.Errorf("records = %v", recs)
	}
}

// TestRESTGateway_QueryRetriesUpstreamFailures verifies that 5xx responses are retried and
// a later success is returned.
func TestRESTGateway_QueryRetriesUpstreamFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	g := newTestREST(t, server.URL)
	if _, err := g.Query(context.Background(), TableStations, Query{}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

// TestRESTGateway_StatusMapping verifies that HTTP statuses map to sentinel errors and that
// non-retryable statuses are not retried.
func TestRESTGateway_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      error
		wantCalls int32
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, 1},
		{"not found", http.StatusNotFound, ErrNotFound, 1},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, 3},
		{"server error", http.StatusInternalServerError, ErrUpstreamFailure, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			g := newTestREST(t, server.URL)
			_, err := g.Query(context.Background(), TableStations, Query{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

// TestRESTGateway_WritesAreNotRetried verifies that a failed insert is attempted exactly once.
func TestRESTGateway_WritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := newTestREST(t, server.URL)
	_, err := g.Insert(context.Background(), TableReadings, Record{"station_id": "s1"})
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("Insert() error = %v, want ErrUpstreamFailure", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

// TestRESTGateway_InsertReturnsID verifies the representation header and returned id.
func TestRESTGateway_InsertReturnsID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("method = %s, prefer = %q", r.Method, r.Header.Get("Prefer"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["station_id"] != "s1" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id":"new-id"}]`)
	}))
	defer server.Close()

	g := newTestREST(t, server.URL)
	id, err := g.Insert(context.Background(), TableReadings, Record{"station_id": "s1"})
	if err != nil || id != "new-id" {
		t.Errorf("Insert() = (%q, %v), want (new-id, nil)", id, err)
	}
}

// TestRESTGateway_UpdateEmptyRepresentationIsNotFound verifies that an update matching no row
// reports ErrNotFound.
func TestRESTGateway_UpdateEmptyRepresentationIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "eq.a1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	g := newTestREST(t, server.URL)
	if err := g.Update(context.Background(), TableAlerts, "a1", Record{"is_active": false}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestRESTGateway_SubscribeUnsupported(t *testing.T) {
	g := newTestREST(t, "https://db.example.com")
	if _, err := g.Subscribe(context.Background(), TableAlerts, EventAll, func(Event) {}); !errors.Is(err, ErrSubscribeUnsupported) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeUnsupported", err)
	}
}
