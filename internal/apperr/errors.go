// Package apperr defines the typed failures produced by the gatekeeping
// layer. Lower layers return *Error values; the HTTP layer renders them with
// a fixed status and a generic public message so that security failures do
// not help an attacker enumerate accounts, sessions or bookings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuthenticationRequired Kind = "AUTHENTICATION_REQUIRED"
	KindForbidden              Kind = "FORBIDDEN"
	KindInvalidCsrf            Kind = "INVALID_CSRF"
	KindRateLimited            Kind = "RATE_LIMITED"
	KindLockedOut              Kind = "LOCKED_OUT"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindUnavailable            Kind = "SERVICE_UNAVAILABLE"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// Error is a typed failure. RetryAfter is only meaningful for
// KindRateLimited and KindLockedOut.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func AuthenticationRequired() *Error {
	return New(KindAuthenticationRequired, "authentication required")
}

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func InvalidCsrf(message string) *Error { return New(KindInvalidCsrf, message) }

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func LockedOut(remaining time.Duration) *Error {
	return &Error{Kind: KindLockedOut, Message: "account temporarily locked", RetryAfter: remaining}
}

func InvalidStateTransition(format string, args ...any) *Error {
	return New(KindInvalidStateTransition, fmt.Sprintf(format, args...))
}

func NotFound(resource string) *Error {
	return New(KindNotFound, resource+" not found")
}

func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }

func Unavailable(err error, dependency string) *Error {
	return Wrap(err, KindUnavailable, dependency+" unavailable")
}

func Internal(err error, message string) *Error { return Wrap(err, KindInternal, message) }

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// As extracts the *Error from err, wrapping unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "unexpected error")
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindAuthenticationRequired:
		return http.StatusUnauthorized
	case KindForbidden, KindInvalidCsrf:
		return http.StatusForbidden
	case KindRateLimited, KindLockedOut:
		return http.StatusTooManyRequests
	case KindInvalidStateTransition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text shown to clients. Security failures get fixed,
// non-enumerating wording regardless of the internal message.
func PublicMessage(e *Error) string {
	switch e.Kind {
	case KindAuthenticationRequired:
		return "authentication required"
	case KindForbidden:
		return "forbidden"
	case KindInvalidCsrf:
		return "request could not be verified"
	case KindRateLimited, KindLockedOut:
		return "too many requests, try again later"
	case KindNotFound:
		return "not found"
	case KindUnavailable:
		return "service temporarily unavailable"
	case KindInternal:
		return "internal error"
	default:
		return e.Message
	}
}
