// Package errors defines the error taxonomy shared by the API clients and
// the resilient call layer. Errors carry a type string so callers can
// distinguish "wait and retry" from "this will never work".
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error types
const (
	// ErrInvalidArgument is returned when an invalid construction parameter is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrRateLimitExceeded is returned when a local or remote rate budget is exhausted
	ErrRateLimitExceeded = "rate_limit_exceeded"

	// ErrTransientTransport is returned for connection failures, timeouts and
	// malformed transport responses; eligible for automatic retry
	ErrTransientTransport = "transient_transport"

	// ErrPermanentRemote is returned for well-formed error responses that will
	// not change on retry, such as a missing resource or rejected credentials
	ErrPermanentRemote = "permanent_remote"

	// ErrAuthExchange is returned when a token refresh call fails
	ErrAuthExchange = "auth_exchange"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error

	// RetryAfter is the earliest time a retry can succeed. Only set for
	// rate limit errors.
	RetryAfter time.Time
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewRateLimitError creates a new rate limit error with the earliest retry time
func NewRateLimitError(message string, retryAfter time.Time) *Error {
	return &Error{
		Type:       ErrRateLimitExceeded,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewTransientTransportError creates a new transient transport error
func NewTransientTransportError(message string, cause error) *Error {
	return NewError(ErrTransientTransport, message, cause)
}

// NewPermanentRemoteError creates a new permanent remote error
func NewPermanentRemoteError(message string, cause error) *Error {
	return NewError(ErrPermanentRemote, message, cause)
}

// NewAuthExchangeError creates a new auth exchange error
func NewAuthExchangeError(message string, cause error) *Error {
	return NewError(ErrAuthExchange, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// isType checks whether err (or anything it wraps) is an *Error of the given type.
func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return isType(err, ErrInvalidArgument)
}

// IsRateLimitExceeded checks if the error is a rate limit error
func IsRateLimitExceeded(err error) bool {
	return isType(err, ErrRateLimitExceeded)
}

// IsTransientTransport checks if the error is a transient transport error
func IsTransientTransport(err error) bool {
	return isType(err, ErrTransientTransport)
}

// IsPermanentRemote checks if the error is a permanent remote error
func IsPermanentRemote(err error) bool {
	return isType(err, ErrPermanentRemote)
}

// IsAuthExchange checks if the error is an auth exchange error
func IsAuthExchange(err error) bool {
	return isType(err, ErrAuthExchange)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}

// RetryAfterOf extracts the retry-after time from a rate limit error.
// Returns the zero time when err is not a rate limit error.
func RetryAfterOf(err error) time.Time {
	var e *Error
	if errors.As(err, &e) && e.Type == ErrRateLimitExceeded {
		return e.RetryAfter
	}
	return time.Time{}
}
