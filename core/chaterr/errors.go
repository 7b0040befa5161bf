// Package chaterr defines the classified errors returned by every public operation.
package chaterr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindAuth covers bad or expired credentials and unauthorized responses.
	KindAuth Kind = iota + 1
	// KindForbidden is a 403 from the service; it triggers a session refresh.
	KindForbidden
	// KindServiceUnavailable means the service stayed at capacity after all retries.
	KindServiceUnavailable
	// KindTimeout means an exchange exceeded its deadline.
	KindTimeout
	// KindAbort means the caller cancelled the operation.
	KindAbort
	// KindProtocol means the streamed response could not be understood.
	KindProtocol
	// KindConcurrency means an exchange was attempted while another was in flight.
	KindConcurrency
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindForbidden:
		return "ForbiddenError"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	case KindTimeout:
		return "TimeoutError"
	case KindAbort:
		return "AbortError"
	case KindProtocol:
		return "ProtocolError"
	case KindConcurrency:
		return "ConcurrencyError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// StatusCode returns the HTTP-like status attached to errors of this kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindAbort:
		return 499
	case KindProtocol:
		return http.StatusBadGateway
	case KindConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a kind sentinel (or *Error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Kind sentinels for errors.Is.
var (
	ErrAuth               = &Error{Kind: KindAuth}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrAbort              = &Error{Kind: KindAbort}
	ErrProtocol           = &Error{Kind: KindProtocol}
	ErrConcurrency        = &Error{Kind: KindConcurrency}
)

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, StatusCode: kind.StatusCode(), Message: msg}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, StatusCode: kind.StatusCode(), Message: msg, Err: err}
}

// FromStatus classifies an HTTP status code observed on the wire.
// It returns nil for 2xx statuses.
func FromStatus(status int, msg string) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return New(KindAuth, msg)
	case status == http.StatusForbidden:
		return New(KindForbidden, msg)
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return New(KindServiceUnavailable, fmt.Sprintf("%s (status %d)", msg, status))
	default:
		e := New(KindProtocol, fmt.Sprintf("%s (status %d)", msg, status))
		e.StatusCode = status
		return e
	}
}

// KindOf returns the kind of err, or 0 if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Classify returns err as an *Error. Context errors become Abort or Timeout;
// anything else unclassified gets the fallback kind.
func Classify(err error, fallback Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(KindAbort, err, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err, msg)
	}
	return Wrap(fallback, err, msg)
}
