package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling through while the circuit is open or the half-open
// probe budget is used up.
var ErrOpen = errors.New("circuit breaker open")

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters. Zero values take defaults.
type Config struct {
	// Consecutive failures that open a closed circuit.
	FailureThreshold int
	// Consecutive half-open successes that close the circuit.
	SuccessThreshold int
	// How long the circuit stays open before letting probes through.
	Timeout time.Duration
	// Concurrent calls allowed while half-open.
	MaxProbes int
	Component string
	// IsFailure decides whether an error counts against the backend. Defaults to any
	// error except caller cancellation.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
	Now           func() time.Time
}

// CircuitBreaker stops calling a failing backend and probes it again after a cool-down.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	probes       int
	openedAt     time.Time
	cfg          Config
	pendingEvent []transition
}

type transition struct{ from, to State }

// New creates a CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{state: StateClosed, cfg: cfg}
}

// Call runs fn when the circuit allows it and records the outcome. It returns ErrOpen
// without running fn while open.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allow() {
		return ErrOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.Timeout {
			cb.mu.Unlock()
			return false
		}
		cb.setState(StateHalfOpen)
		cb.successes = 0
		cb.probes = 1
	case StateHalfOpen:
		if cb.probes >= cb.cfg.MaxProbes {
			cb.mu.Unlock()
			return false
		}
		cb.probes++
	}
	events := cb.drain()
	cb.mu.Unlock()
	cb.emit(events)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	switch {
	case err != nil && cb.cfg.IsFailure(err):
		cb.successes = 0
		cb.failures++
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold) {
			cb.failures = 0
			cb.openedAt = cb.cfg.Now()
			cb.setState(StateOpen)
		}
	case err == nil:
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.successes = 0
				cb.setState(StateClosed)
			}
		}
	}
	events := cb.drain()
	cb.mu.Unlock()
	cb.emit(events)
}

// setState must be called with mu held; the callback runs after unlock.
func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	cb.pendingEvent = append(cb.pendingEvent, transition{from: cb.state, to: to})
	cb.state = to
}

func (cb *CircuitBreaker) drain() []transition {
	events := cb.pendingEvent
	cb.pendingEvent = nil
	return events
}

func (cb *CircuitBreaker) emit(events []transition) {
	if cb.cfg.OnStateChange == nil {
		return
	}
	for _, e := range events {
		cb.cfg.OnStateChange(e.from, e.to)
	}
}

// State returns the current state. An open circuit past its timeout still reports open
// until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Component returns the name the breaker was configured with.
func (cb *CircuitBreaker) Component() string {
	return cb.cfg.Component
}
