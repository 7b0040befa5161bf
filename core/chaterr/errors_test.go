package chaterr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindAuth, "AuthError"},
		{KindForbidden, "ForbiddenError"},
		{KindServiceUnavailable, "ServiceUnavailable"},
		{KindTimeout, "TimeoutError"},
		{KindAbort, "AbortError"},
		{KindProtocol, "ProtocolError"},
		{KindConcurrency, "ConcurrencyError"},
		{Kind(42), "Unknown(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindServiceUnavailable, "at capacity"))

	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Equal(t, KindServiceUnavailable, KindOf(err))

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, 503, e.StatusCode)
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("user pressed stop")
	err := Wrap(KindAbort, cause, "exchange cancelled")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrAbort)
	assert.Contains(t, err.Error(), "user pressed stop")
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
		code   int
	}{
		{401, KindAuth, 401},
		{403, KindForbidden, 403},
		{429, KindServiceUnavailable, 503},
		{503, KindServiceUnavailable, 503},
		{500, KindProtocol, 500},
		{404, KindProtocol, 404},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, "conversation")
			if assert.NotNil(t, err) {
				assert.Equal(t, tt.kind, err.Kind)
				assert.Equal(t, tt.code, err.StatusCode)
			}
		})
	}

	assert.Nil(t, FromStatus(200, "ok"))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil, KindProtocol, "x"))
	assert.Equal(t, KindAbort, Classify(context.Canceled, KindProtocol, "x").Kind)
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded, KindProtocol, "x").Kind)
	assert.Equal(t, KindAuth, Classify(errors.New("boom"), KindAuth, "x").Kind)

	orig := New(KindForbidden, "nope")
	assert.Same(t, orig, Classify(fmt.Errorf("wrapped: %w", orig), KindProtocol, "x"))
}
