package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/kjstillabower/station-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/station-monitor/internal/observability"
)

// Guarded wraps a Gateway with a circuit breaker and per-call metrics. Caller mistakes
// (unknown rows, tables or columns, rejected payloads) do not count against the backend.
type Guarded struct {
	inner   Gateway
	backend string
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuarded wraps inner. backend labels the metrics ("memory", "postgres", "rest").
func NewGuarded(inner Gateway, backend string, cfg circuitbreaker.Config) *Guarded {
	if cfg.Component == "" {
		cfg.Component = "gateway"
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAgainstBackend
	}
	userHook := cfg.OnStateChange
	component := cfg.Component
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
		if userHook != nil {
			userHook(from, to)
		}
	}
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return &Guarded{inner: inner, backend: backend, breaker: circuitbreaker.New(cfg)}
}

// BreakerState reports the breaker state for health checks.
func (g *Guarded) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}

// Backend returns the metrics label of the wrapped gateway.
func (g *Guarded) Backend() string {
	return g.backend
}

func (g *Guarded) Query(ctx context.Context, table Table, q Query) ([]Record, error) {
	var out []Record
	err := g.call(ctx, "query", func() error {
		var err error
		out, err = g.inner.Query(ctx, table, q)
		return err
	})
	return out, err
}

func (g *Guarded) Insert(ctx context.Context, table Table, rec Record) (string, error) {
	var id string
	err := g.call(ctx, "insert", func() error {
		var err error
		id, err = g.inner.Insert(ctx, table, rec)
		return err
	})
	return id, err
}

func (g *Guarded) Update(ctx context.Context, table Table, id string, patch Record) error {
	return g.call(ctx, "update", func() error {
		return g.inner.Update(ctx, table, id, patch)
	})
}

func (g *Guarded) Delete(ctx context.Context, table Table, id string) error {
	return g.call(ctx, "delete", func() error {
		return g.inner.Delete(ctx, table, id)
	})
}

// Subscribe bypasses the breaker: a feed that cannot be opened already falls back to polling.
func (g *Guarded) Subscribe(ctx context.Context, table Table, kinds EventKind, fn func(Event)) (Subscription, error) {
	start := time.Now()
	sub, err := g.inner.Subscribe(ctx, table, kinds, fn)
	observability.RecordGatewayCall(g.backend, "subscribe", resultLabel(err), time.Since(start))
	return sub, err
}

func (g *Guarded) call(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := g.breaker.Call(ctx, fn)
	observability.RecordGatewayCall(g.backend, op, resultLabel(err), time.Since(start))
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "circuit_open"
	}
	return string(CategorizeError(err))
}

func countsAgainstBackend(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rejected *RejectedError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownTable), errors.Is(err, ErrUnknownColumn),
		errors.Is(err, ErrSubscribeUnsupported), errors.As(err, &rejected):
		return false
	}
	return true
}
