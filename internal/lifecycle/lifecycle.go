package lifecycle

import "sync/atomic"

// Phase is the process-wide lifecycle phase reported by the health endpoint.
type Phase int32

const (
	// PhaseStarting lasts until the initial store sync has finished.
	PhaseStarting Phase = iota
	// PhaseRunning means stores are synced and subscriptions are open.
	PhaseRunning
	// PhaseShuttingDown is set when SIGTERM/SIGINT is received.
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown moves to PhaseShuttingDown. Health returns 503 with status shutting-down while
// it is set. Passing false returns to PhaseRunning.
func SetShuttingDown(v bool) {
	if v {
		SetPhase(PhaseShuttingDown)
		return
	}
	SetPhase(PhaseRunning)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == PhaseShuttingDown
}
