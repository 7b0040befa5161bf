package event

import "time"

// ExchangeStarted is published when a prompt is submitted.
type ExchangeStarted struct {
	baseSessionEvent
	ExchangeID     string
	ConversationID string
	Attempt        int
}

func NewExchangeStarted(sessionID, exchangeID, conversationID string, attempt int) *ExchangeStarted {
	return &ExchangeStarted{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		ExchangeID:       exchangeID,
		ConversationID:   conversationID,
		Attempt:          attempt,
	}
}

func (e *ExchangeStarted) EventName() string {
	return "ExchangeStarted"
}

// ExchangeSettled is published exactly once per exchange attempt.
type ExchangeSettled struct {
	baseSessionEvent
	ExchangeID string
	MessageID  string
	Elapsed    time.Duration
	Error      error // nil on success
}

func NewExchangeSettled(sessionID, exchangeID, messageID string, elapsed time.Duration, err error) *ExchangeSettled {
	return &ExchangeSettled{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		ExchangeID:       exchangeID,
		MessageID:        messageID,
		Elapsed:          elapsed,
		Error:            err,
	}
}

func (e *ExchangeSettled) EventName() string {
	return "ExchangeSettled"
}

// SessionRecovered is published after a 401/403 observed mid-exchange was handled.
type SessionRecovered struct {
	baseSessionEvent
	Operation string // "refresh" or "reset"
	Error     error  // nil if recovery succeeded
}

func NewSessionRecovered(sessionID, operation string, err error) *SessionRecovered {
	return &SessionRecovered{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Operation:        operation,
		Error:            err,
	}
}

func (e *SessionRecovered) EventName() string {
	return "SessionRecovered"
}
