package inference

import (
	"fmt"
	"strings"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// State is a step of the sequencing state machine.
type State string

const (
	StateIdle            State = "idle"
	StateParsing         State = "parsing"
	StateSubmitting      State = "submitting"
	StateAwaitingReceipt State = "awaiting_receipt"
	StateChaining        State = "chaining"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// ValidTransitions defines allowed state transitions. Any state may re-enter Parsing because a
// new run supersedes whatever was in flight.
var ValidTransitions = map[State][]State{
	StateIdle: {
		StateParsing,
	},
	StateParsing: {
		StateSubmitting,
		StateFailed,
		StateParsing,
	},
	StateSubmitting: {
		StateAwaitingReceipt,
		StateFailed,
		StateParsing,
	},
	StateAwaitingReceipt: {
		StateChaining,
		StateCompleted,
		StateFailed,
		StateParsing,
	},
	StateChaining: {
		StateSubmitting,
		StateFailed,
		StateParsing,
	},
	// Terminal states are left only by a new run
	StateCompleted: {StateParsing},
	StateFailed:    {StateParsing},
}

// IsValidTransition checks if a state transition is valid
func IsValidTransition(from, to State) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends a run.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Mode selects how layers are packed into transactions.
type Mode string

const (
	// ModeSingleLayer submits one transaction per layer and chains outputs client-side.
	ModeSingleLayer Mode = "single"
	// ModeBatched submits every layer in one transaction with the same declared input.
	ModeBatched Mode = "batched"
	// ModeDecomposed submits one call per output dimension, chained inside one transaction.
	ModeDecomposed Mode = "optimized"
)

// ParseMode accepts the mode names used in configuration and on the API.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single-layer", "layer":
		return ModeSingleLayer, nil
	case "batched", "batch", "ptb":
		return ModeBatched, nil
	case "optimized", "decomposed", "partial":
		return ModeDecomposed, nil
	default:
		return "", errors.InputInvalid.Explain("unknown inference mode %q", s)
	}
}

func (m Mode) String() string {
	return string(m)
}

// Severity grades a status message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Status is the human readable outcome shown to the user, with the error kind behind it.
type Status struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind,omitempty"`
}

func statusFor(err error) Status {
	kind := errors.KindOf(err)
	msg := errors.MessageOf(err)
	if kind == errors.KindNoEventsFound {
		return Status{Message: fmt.Sprintf("Warning: %s", msg), Severity: SeverityWarning, Kind: kind}
	}
	return Status{Message: fmt.Sprintf("Error: %s", msg), Severity: SeverityError, Kind: kind}
}
