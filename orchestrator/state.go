package orchestrator

import (
	"errors"
	"fmt"
)

// State is one phase of an invocation.
type State string

const (
	StateInit            State = "INIT"
	StateMemoryLoaded    State = "MEMORY_LOADED"
	StateContextResolved State = "CONTEXT_RESOLVED"
	StateExecuting       State = "EXECUTING"
	StateMemoryUpdated   State = "MEMORY_UPDATED"
	StateDone            State = "DONE"
	StateError           State = "ERROR"
)

// ErrIllegalTransition rejects a state change the machine does not allow.
var ErrIllegalTransition = errors.New("illegal state transition")

// transitions is the legal-transition table. ERROR is reachable from
// every non-terminal state and always re-enters the phase that failed,
// carrying a degraded result; it never leads back to INIT or out of the
// machine.
var transitions = map[State][]State{
	StateInit:            {StateMemoryLoaded, StateError},
	StateMemoryLoaded:    {StateContextResolved, StateError},
	StateContextResolved: {StateExecuting, StateError},
	StateExecuting:       {StateMemoryUpdated, StateError},
	StateMemoryUpdated:   {StateDone, StateError},
	StateError:           {StateMemoryLoaded, StateContextResolved, StateExecuting, StateMemoryUpdated, StateDone},
	StateDone:            {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrIllegalTransition when from->to is not in
// the table.
func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
