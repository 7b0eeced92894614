package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormatting(t *testing.T) {
	plain := New(ErrCodeNotFound, "message not found")
	assert.Equal(t, "NOT_FOUND: message not found", plain.Error())

	cause := errors.New("connection reset")
	wrapped := Wrap(cause, ErrCodeDatabaseQuery, "query failed")
	assert.Equal(t, "DATABASE_QUERY: query failed: connection reset", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestWithContextAndUserMessage(t *testing.T) {
	err := New(ErrCodeValidationFailed, "bad priority").
		WithContext("field", "priority").
		WithUserMessage("Invalid priority")

	assert.Equal(t, "priority", err.Context["field"])
	assert.Equal(t, "Invalid priority", GetUserMessage(err))

	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("opaque")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(New(ErrCodeNotFound, "x")))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))

	// The code survives wrapping with fmt.Errorf.
	err := fmt.Errorf("handler: %w", New(ErrCodeRateLimit, "slow down"))
	assert.Equal(t, ErrCodeRateLimit, GetCode(err))
	assert.True(t, IsCode(err, ErrCodeRateLimit))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(WrapRetryable(errors.New("x"), ErrCodeTimeout, "timed out")))
	assert.False(t, IsRetryable(New(ErrCodeValidationFailed, "bad input")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestNewChannelErrorRetryability(t *testing.T) {
	cause := errors.New("send failed")
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"network failure", 0, true},
		{"server error", 500, true},
		{"bad gateway", 502, true},
		{"throttled", 429, true},
		{"request timeout", 408, true},
		{"bad request", 400, false},
		{"unprocessable", 422, false},
		{"ok but rejected", 200, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewChannelError("chat", tt.status, cause)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.status, err.Context["status_code"])
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewValidationError("priority", "out of range"), http.StatusBadRequest},
		{New(ErrCodeInvalidInput, "bad phone"), http.StatusBadRequest},
		{NewNotFoundError("message", "q1"), http.StatusNotFound},
		{NewAuthError("bad key"), http.StatusUnauthorized},
		{New(ErrCodeAuthorization, "no permission"), http.StatusForbidden},
		{New(ErrCodeRateLimit, "slow down"), http.StatusTooManyRequests},
		{New(ErrCodeTimeout, "deadline"), http.StatusGatewayTimeout},
		{New(ErrCodeDatabaseQuery, "boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "for %v", tt.err)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("toPhone", "must contain only digits")
	require.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "toPhone", err.Context["field"])
	assert.Equal(t, "Invalid toPhone: must contain only digits", err.UserMessage)
}
