package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrInvalidArgument,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "invalid_argument: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrTransientTransport,
				Message: "test message",
				Cause:   nil,
			},
			want: "transient_transport: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrInternal,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTypeCheckers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
		want    bool
	}{
		{"rate limit error", NewRateLimitError("limit hit", time.Now()), IsRateLimitExceeded, true},
		{"transient error", NewTransientTransportError("timeout", nil), IsTransientTransport, true},
		{"permanent error", NewPermanentRemoteError("not found", nil), IsPermanentRemote, true},
		{"auth exchange error", NewAuthExchangeError("exchange failed", nil), IsAuthExchange, true},
		{"invalid argument error", NewInvalidArgumentError("bad ttl", nil), IsInvalidArgument, true},
		{"mismatched type", NewPermanentRemoteError("not found", nil), IsTransientTransport, false},
		{"plain error", errors.New("plain"), IsRateLimitExceeded, false},
		{"nil error", nil, IsPermanentRemote, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.checker(tt.err); got != tt.want {
				t.Errorf("checker(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTypeCheckers_WrappedErrors(t *testing.T) {
	inner := NewTransientTransportError("connection reset", nil)
	wrapped := fmt.Errorf("fetching module: %w", inner)

	if !IsTransientTransport(wrapped) {
		t.Error("IsTransientTransport should see through fmt.Errorf wrapping")
	}
	if IsPermanentRemote(wrapped) {
		t.Error("IsPermanentRemote should not match a wrapped transient error")
	}
}

func TestRetryAfterOf(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	err := NewRateLimitError("limit hit", reset)

	if got := RetryAfterOf(err); !got.Equal(reset) {
		t.Errorf("RetryAfterOf() = %v, want %v", got, reset)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if got := RetryAfterOf(wrapped); !got.Equal(reset) {
		t.Errorf("RetryAfterOf(wrapped) = %v, want %v", got, reset)
	}

	if got := RetryAfterOf(errors.New("plain")); !got.IsZero() {
		t.Errorf("RetryAfterOf(plain) = %v, want zero time", got)
	}
}
