// Package state defines the session state machine.
package state

import "fmt"

// SessionState represents the authentication state of a session.
type SessionState int

const (
	// StateUninitialized is the state before Init and after a failed Init or Refresh.
	StateUninitialized SessionState = iota
	// StateInitializing indicates the page is being acquired and authenticated.
	StateInitializing
	// StateReady indicates the session can run exchanges.
	StateReady
	// StateRefreshing indicates clearance and access tokens are being re-derived.
	StateRefreshing
	// StateResetting indicates the session is being discarded before re-initializing.
	StateResetting
	// StateClosed indicates the page was released. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateRefreshing:
		return "Refreshing"
	case StateResetting:
		return "Resetting"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines the allowed state transitions.
// Key is the current state, value is a list of valid target states.
var validTransitions = map[SessionState][]SessionState{
	StateUninitialized: {StateInitializing, StateClosed},
	StateInitializing:  {StateReady, StateUninitialized, StateClosed},
	StateReady:         {StateRefreshing, StateResetting, StateClosed},
	StateRefreshing:    {StateReady, StateUninitialized, StateClosed},
	StateResetting:     {StateInitializing, StateClosed},
	StateClosed:        {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if transitioning from the current state to the target state is valid.
func (s SessionState) CanTransitionTo(target SessionState) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidTransitions returns the list of valid target states from the current state.
func (s SessionState) ValidTransitions() []SessionState {
	return validTransitions[s]
}

// IsTerminal returns true if the state is a terminal state (no further transitions).
func (s SessionState) IsTerminal() bool {
	return s == StateClosed
}

// CanExchange returns true if a conversation exchange may start in this state.
func (s SessionState) CanExchange() bool {
	return s == StateReady
}

// IsBusy returns true while a lifecycle operation owns the page.
func (s SessionState) IsBusy() bool {
	return s == StateInitializing || s == StateRefreshing || s == StateResetting
}

// TransitionError represents an invalid state transition attempt.
type TransitionError struct {
	From   SessionState
	To     SessionState
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid state transition from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to SessionState, reason string) *TransitionError {
	return &TransitionError{From: from, To: to, Reason: reason}
}
