package adapter

import (
	"context"
	"errors"
	"fmt"
)

// ErrAdapterClosed is returned by every operation attempted after Close.
// It indicates a lifecycle bug in the caller.
var ErrAdapterClosed = errors.New("shelfdb: adapter closed")

// ConnectionError is returned when a backend cannot be reached while the
// adapter is being constructed. It is fatal: startup must abort.
type ConnectionError struct {
	Kind Kind
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("shelfdb: %s connection failed: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Class groups statement failures independently of the backend.
type Class string

const (
	// ClassSyntax covers malformed SQL and references to unknown objects.
	ClassSyntax Class = "syntax"
	// ClassConstraint covers unique, foreign key, not-null and check violations.
	ClassConstraint Class = "constraint"
	// ClassBusy covers lock contention, deadlocks and serialization failures.
	ClassBusy Class = "busy"
	// ClassTimeout covers calls abandoned through their context.
	ClassTimeout Class = "timeout"
	// ClassUnknown covers everything else.
	ClassUnknown Class = "unknown"
)

// StatementError is returned when a statement fails at execution time.
//
// The native driver error is flattened into Code and Message so that no
// driver type leaks across the adapter boundary. Unwrap only exposes context
// errors, which lets callers test errors.Is(err, context.DeadlineExceeded).
type StatementError struct {
	Kind    Kind
	Class   Class
	Code    string // SQLSTATE for postgres, extended result code for sqlite
	Message string
	SQL     string
	ctxErr  error
}

// NewStatementError builds a StatementError. ctxErr is kept for Unwrap only
// when it is context.Canceled or context.DeadlineExceeded.
func NewStatementError(kind Kind, class Class, code, message, sql string, ctxErr error) *StatementError {
	e := &StatementError{
		Kind:    kind,
		Class:   class,
		Code:    code,
		Message: message,
		SQL:     sql,
	}
	if errors.Is(ctxErr, context.Canceled) || errors.Is(ctxErr, context.DeadlineExceeded) {
		e.ctxErr = ctxErr
	}
	return e
}

func (e *StatementError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("shelfdb: %s statement failed (%s %s): %s", e.Kind, e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("shelfdb: %s statement failed (%s): %s", e.Kind, e.Class, e.Message)
}

func (e *StatementError) Unwrap() error {
	return e.ctxErr
}

// IsConnectionErr returns true if err is or wraps a ConnectionError.
func IsConnectionErr(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsStatementErr returns true if err is or wraps a StatementError.
func IsStatementErr(err error) bool {
	var se *StatementError
	return errors.As(err, &se)
}

// IsClosedErr returns true if err is or wraps ErrAdapterClosed.
func IsClosedErr(err error) bool {
	return errors.Is(err, ErrAdapterClosed)
}

// IsConstraintErr returns true if err is a StatementError caused by a
// constraint violation.
func IsConstraintErr(err error) bool {
	return classOf(err) == ClassConstraint
}

// IsTimeoutErr returns true if err is a StatementError raised because the
// caller's context was cancelled or expired.
func IsTimeoutErr(err error) bool {
	return classOf(err) == ClassTimeout
}

func classOf(err error) Class {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}
