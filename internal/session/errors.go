package session

import (
	"errors"
	"fmt"
)

var (
	ErrSignaling     = errors.New("signaling error")
	ErrStateConflict = errors.New("state conflict")
	ErrUnauthorized  = errors.New("not authorized")
	ErrTimeout       = errors.New("timeout")
	ErrNotFound      = errors.New("not found")

	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Error carries the operation that failed alongside one of the sentinel kinds above.
// Callers match on the kind with errors.Is.
type Error struct {
	Op      string
	Kind    error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Kind, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Details: fmt.Sprintf(format, args...)}
}

func notFound(op, format string, args ...any) *Error {
	return newError(op, ErrNotFound, format, args...)
}

func unauthorized(op, format string, args ...any) *Error {
	return newError(op, ErrUnauthorized, format, args...)
}

func conflict(op, format string, args ...any) *Error {
	return newError(op, ErrStateConflict, format, args...)
}

func signalingErr(op, format string, args ...any) *Error {
	return newError(op, ErrSignaling, format, args...)
}
