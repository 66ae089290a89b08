package orchestrator

import (
	"errors"
	"fmt"
	"slices"

	"patchmind/pkg/proto"
)

// State is a lifecycle state of the orchestrator or of a task.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionTable lists the allowed targets of each state.
type TransitionTable map[State][]State

// IsValid reports whether from -> to is allowed.
func (t TransitionTable) IsValid(from, to State) bool {
	return slices.Contains(t[from], to)
}

func (t TransitionTable) check(from, to State) error {
	if !t.IsValid(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

//nolint:gochecknoglobals // static tables
var (
	// OrchestratorTransitions allows one running task at a time.
	OrchestratorTransitions = TransitionTable{
		StateIdle:    {StateRunning},
		StateRunning: {StateIdle},
	}

	// TaskTransitions ends every task in exactly one terminal state.
	TaskTransitions = TransitionTable{
		StateIdle:    {StateRunning, StateFailed, StateCancelled},
		StateRunning: {StateCompleted, StateFailed, StateCancelled},
	}
)

// IsTerminal reports whether s ends a task.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func stateForEvent(kind proto.EventKind) State {
	switch kind {
	case proto.EventCompleted:
		return StateCompleted
	case proto.EventCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}
