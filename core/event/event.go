// Package event defines the events a session publishes while it authenticates
// and runs exchanges. Subscribers use them for logging and monitoring.
package event

import "github.com/CoCo-27/chatgpt-api/core/state"

// Event is the base interface for all events.
type Event interface {
	// EventName returns the name of the event for logging/debugging
	EventName() string
}

// SessionEvent is an event that originates from a specific session.
type SessionEvent interface {
	Event
	// SessionID returns the source session ID
	SessionID() string
}

// baseSessionEvent provides common implementation for session events.
type baseSessionEvent struct {
	sessionID string
}

func (e *baseSessionEvent) SessionID() string {
	return e.sessionID
}

// SessionStateChanged is published when a session's state changes.
type SessionStateChanged struct {
	baseSessionEvent
	OldState state.SessionState
	NewState state.SessionState
}

func NewSessionStateChanged(sessionID string, oldState, newState state.SessionState) *SessionStateChanged {
	return &SessionStateChanged{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		OldState:         oldState,
		NewState:         newState,
	}
}

func (e *SessionStateChanged) EventName() string {
	return "SessionStateChanged"
}

// AuthSucceeded is published when a session obtained an access token.
type AuthSucceeded struct {
	baseSessionEvent
	Restored bool // true if a stored snapshot supplied the session cookie
}

func NewAuthSucceeded(sessionID string, restored bool) *AuthSucceeded {
	return &AuthSucceeded{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Restored:         restored,
	}
}

func (e *AuthSucceeded) EventName() string {
	return "AuthSucceeded"
}

// AuthFailed is published when Init, Refresh or Reset fails.
type AuthFailed struct {
	baseSessionEvent
	Operation string
	Error     error
}

func NewAuthFailed(sessionID, operation string, err error) *AuthFailed {
	return &AuthFailed{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Operation:        operation,
		Error:            err,
	}
}

func (e *AuthFailed) EventName() string {
	return "AuthFailed"
}

// CapacityDetected is published each time the capacity banner is seen.
type CapacityDetected struct {
	baseSessionEvent
	Attempt int
}

func NewCapacityDetected(sessionID string, attempt int) *CapacityDetected {
	return &CapacityDetected{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Attempt:          attempt,
	}
}

func (e *CapacityDetected) EventName() string {
	return "CapacityDetected"
}
