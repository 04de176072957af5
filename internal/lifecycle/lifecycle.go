// Package lifecycle tracks the process phase shared by main and the health handler.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle stage.
type Phase int32

const (
	// PhaseStarting lasts until the first snapshot is published.
	PhaseStarting Phase = iota
	PhaseServing
	// PhaseDraining starts on SIGINT/SIGTERM; health returns 503 from here on.
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// CurrentPhase returns the recorded phase.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseDraining
}
