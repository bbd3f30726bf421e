package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates an operation referenced a nonexistent workflow or run.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidTransition indicates a run update out of a terminal state.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodePersistence indicates a store write or read failed.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeMalformedEvent indicates the adapter dropped an unrecognized signal.
	ErrCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"
)

// Error is the single error type for the core taxonomy.
// Use the IsXxx helpers rather than comparing codes directly.
type Error struct {
	Code    ErrorCode
	Message string

	// ID identifies the affected workflow, run, or signal action.
	ID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports a missing record of the given kind ("workflow" or "run").
func NewNotFoundError(kind, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: kind + " not found",
		ID:      id,
	}
}

// NewInvalidTransitionError reports a rejected run status change.
func NewInvalidTransitionError(runID string, from, to RunStatus) *Error {
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot move run from %s to %s", from, to),
		ID:      runID,
	}
}

// NewPersistenceError wraps a backend failure for the named operation.
func NewPersistenceError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodePersistence,
		Message: op + " failed",
		Err:     err,
	}
}

// NewMalformedEventError reports a raw signal the adapter could not normalize.
func NewMalformedEventError(action, reason string) *Error {
	return &Error{
		Code:    ErrCodeMalformedEvent,
		Message: reason,
		ID:      action,
	}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound returns true if err is a NOT_FOUND error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsInvalidTransition returns true if err is an INVALID_TRANSITION error.
func IsInvalidTransition(err error) bool { return hasCode(err, ErrCodeInvalidTransition) }

// IsPersistence returns true if err is a PERSISTENCE error.
func IsPersistence(err error) bool { return hasCode(err, ErrCodePersistence) }

// IsMalformedEvent returns true if err is a MALFORMED_EVENT error.
func IsMalformedEvent(err error) bool { return hasCode(err, ErrCodeMalformedEvent) }
