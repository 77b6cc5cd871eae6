// Package domainerrors provides coded errors for the domain layer.
//
// Services return these so transports can map failures to wire-level
// statuses without string matching. Stores return sentinel errors
// (pkg/platform/sentinel) and services translate them into coded errors
// at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure.
type Code string

const (
	// CodeUnauthorized means the caller lacks the required role or
	// relationship (not a regulator, not the batch owner, not the
	// bootstrap principal).
	CodeUnauthorized Code = "unauthorized"

	// CodeNotFound means a referenced id or principal does not exist.
	CodeNotFound Code = "not_found"

	// CodeAlreadyExists covers duplicate registrations, duplicate
	// acknowledgments, and duplicate quarantines.
	CodeAlreadyExists Code = "already_exists"

	// CodeInvalidInput covers empty, malformed, or out-of-range arguments.
	CodeInvalidInput Code = "invalid_input"

	// CodeComplianceViolation means no transfer rule matches the entity
	// type pair, or the matching rule disallows the transfer.
	CodeComplianceViolation Code = "compliance_violation"

	// CodeBatchExpired means the batch expiry is not past the current
	// logical clock.
	CodeBatchExpired Code = "batch_expired"

	// CodeBatchInactive covers deactivated, frozen, and quarantined
	// batches.
	CodeBatchInactive Code = "batch_inactive"

	// CodeInvalidState guards one-way transitions: closing a resolved
	// investigation, releasing a released quarantine, approving an
	// already-approved license.
	CodeInvalidState Code = "invalid_state"

	// CodeLimitExceeded means a bounded list (custody chain, transfer
	// history, manufacturer batches) is at capacity.
	CodeLimitExceeded Code = "limit_exceeded"

	// CodeInternal is an unexpected infrastructure failure.
	CodeInternal Code = "internal"
)

// Error carries a code, a caller-facing message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-facing message, falling back to the
// error string for uncoded errors.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
