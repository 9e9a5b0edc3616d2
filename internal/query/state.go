package query

import "time"

// State is the lifecycle state of a Controller.
type State int

const (
	// StateIdle is the state before Run.
	StateIdle State = iota
	// StateRunning means items are being processed.
	StateRunning
	// StateStopping means no further items will be written.
	StateStopping
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Reason explains why a run ended.
type Reason string

const (
	ReasonLimit     Reason = "limit"
	ReasonFinished  Reason = "finished"
	ReasonExhausted Reason = "exhausted"
	ReasonStopped   Reason = "stopped"
	ReasonCancelled Reason = "cancelled"
	ReasonFailed    Reason = "failed"
)

// Summary describes a completed run.
type Summary struct {
	Query     string        `json:"query"`
	SessionID string        `json:"session_id,omitempty"`
	Emitted   int           `json:"emitted"`
	Removed   int           `json:"removed"`
	Batches   int           `json:"batches"`
	Reason    Reason        `json:"reason"`
	Duration  time.Duration `json:"duration"`
}
