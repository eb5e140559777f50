package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/station-monitor/internal/observability"
)

// RESTConfig configures a RESTGateway.
type RESTConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// RESTGateway speaks the PostgREST dialect used by hosted Postgres backends
// (/rest/v1/<table>?col=eq.v&order=c.desc). Reads are retried with exponential backoff;
// writes are sent once so failures reach the caller unchanged. It has no change feed.
type RESTGateway struct {
	baseURL        *url.URL
	apiKey         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewRESTGateway validates cfg and builds the gateway.
func NewRESTGateway(cfg RESTConfig) (*RESTGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrUnauthorized)
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	return &RESTGateway{
		baseURL:        u,
		apiKey:         cfg.APIKey,
		timeout:        cfg.Timeout,
		client:         &http.Client{Timeout: cfg.Timeout},
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
	}, nil
}

func (g *RESTGateway) Query(ctx context.Context, table Table, q Query) ([]Record, error) {
	if err := validateQuery(table, q); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("select", "*")
	for _, f := range q.Filters {
		params.Add(f.Column, "eq."+formatValue(f.Value))
	}
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}

	var lastErr error
	for attempt := 0; attempt < g.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.GatewayRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.calculateBackoff(attempt)):
			}
		}

		recs, err := g.do(ctx, http.MethodGet, table, params, nil)
		if err == nil {
			return recs, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (g *RESTGateway) Insert(ctx context.Context, table Table, rec Record) (string, error) {
	if err := validateRecord(table, rec); err != nil {
		return "", err
	}
	recs, err := g.do(ctx, http.MethodPost, table, nil, rec)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", fmt.Errorf("%w: insert into %s returned no row", ErrUpstreamFailure, table)
	}
	id, ok := optionalString(recs[0], "id")
	if !ok || id == "" {
		return "", fmt.Errorf("%w: insert into %s returned no id", ErrUpstreamFailure, table)
	}
	return id, nil
}

func (g *RESTGateway) Update(ctx context.Context, table Table, id string, patch Record) error {
	if err := validateRecord(table, patch); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("id", "eq."+id)
	recs, err := g.do(ctx, http.MethodPatch, table, params, patch)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

func (g *RESTGateway) Delete(ctx context.Context, table Table, id string) error {
	if err := CheckTable(table); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("id", "eq."+id)
	recs, err := g.do(ctx, http.MethodDelete, table, params, nil)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

// Subscribe is not available over plain REST; callers fall back to polling.
func (g *RESTGateway) Subscribe(ctx context.Context, table Table, kinds EventKind, fn func(Event)) (Subscription, error) {
	return nil, ErrSubscribeUnsupported
}

func (g *RESTGateway) do(ctx context.Context, method string, table Table, params url.Values, body Record) ([]Record, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := g.buildRequest(reqCtx, method, table, params, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return recs, nil
}

func (g *RESTGateway) buildRequest(ctx context.Context, method string, table Table, params url.Values, body Record) (*http.Request, error) {
	u := *g.baseURL
	u.Path = u.Path + "/rest/v1/" + string(table)
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}
	return req, nil
}

func (g *RESTGateway) calculateBackoff(attempt int) time.Duration {
	delay := float64(g.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(g.retryMaxDelay) {
		delay = float64(g.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RejectedError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

// RejectedError is a 4xx the backend returned for a malformed request. It is never retried.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected: HTTP %d: %s", e.Status, e.Body)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}
