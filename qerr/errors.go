// Package qerr defines the closed error taxonomy shared by every
// component of pgqueue (spec §4.7). Every error surfaced across package
// boundaries carries one of these codes and preserves its cause chain via
// Unwrap, so callers can use errors.Is/errors.As regardless of which
// component raised it.
package qerr

import (
	"errors"
	"fmt"
)

// Code is a closed enumeration of error classes. New codes are never
// added without updating this list and the handling table in spec §7.
type Code string

const (
	Validation      Code = "VALIDATION"
	StorageFault    Code = "STORAGE_FAULT"
	Transaction     Code = "TRANSACTION"
	RaceLost        Code = "RACE_LOST"
	NotFound        Code = "NOT_FOUND"
	DuplicateID     Code = "DUPLICATE_ID"
	InProcess       Code = "IN_PROCESS"
	ClaimFailure    Code = "CLAIM_FAILURE"
	UniqueConstraint Code = "UNIQUE_CONSTRAINT"
	HandlerMissing  Code = "HANDLER_MISSING"
	HandlerFailure  Code = "HANDLER_FAILURE"
	SweepFailure    Code = "SWEEP_FAILURE"
)

// Error is the concrete error type every pgqueue component returns. It
// carries an immutable Code and wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pgqueue: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("pgqueue: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As traverse
// through Error values.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, qerr.New(code, "", nil)) style matching by
// Code, in addition to matching a specific *Error instance.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// New constructs an *Error with the given code, message and cause. Cause
// may be nil.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrap is a convenience for New(code, cause.Error(), cause).
func Wrap(code Code, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return New(code, msg, cause)
}

// Sentinel values for the "expected race" and "not found" cases callers
// commonly compare against directly with errors.Is.
var (
	ErrRaceLost         = New(RaceLost, "row no longer in expected state", nil)
	ErrNotFound         = New(NotFound, "no matching row", nil)
	ErrDuplicateID      = New(DuplicateID, "id already exists", nil)
	ErrInProcess        = New(InProcess, "operation already in flight for this key", nil)
	ErrUniqueConstraint = New(UniqueConstraint, "idempotency key conflict", nil)
	ErrHandlerMissing   = New(HandlerMissing, "no handler registered for type", nil)
)

// CodeOf extracts the Code from err if it is (or wraps) a *Error, and
// reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
