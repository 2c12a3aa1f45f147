// Package apperror provides structured error handling for the runtime.
// All errors crossing package boundaries should use AppError so callers can
// branch on machine-readable codes instead of message text.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes, grouped by error class.
const (
	// Infrastructure errors
	CodeInternal = "INTERNAL_ERROR"
	CodeStore    = "OBJECT_STORE_ERROR"

	// Programming errors: caller bugs, never retried
	CodeNoSession          = "NO_SESSION"
	CodeSessionOpen        = "SESSION_ALREADY_OPEN"
	CodeNoContext          = "NO_CONTEXT"
	CodeContextInstalled   = "CONTEXT_ALREADY_INSTALLED"
	CodeNoTransaction      = "NO_TRANSACTION"
	CodeTransactionDone    = "TRANSACTION_COMPLETE"
	CodeTransactionNesting = "TRANSACTION_NESTING"

	// Unit-of-work failures (commit downgraded to abort)
	CodeCommitFailed           = "COMMIT_FAILED"
	CodeAbortFailed            = "ABORT_FAILED"
	CodeCommandFailed          = "COMMAND_FAILED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Authentication
	CodeUnauthorized = "UNAUTHORIZED"
)

// AppError is the standard error type for the runtime.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (oids, nesting levels, etc.)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewInternal creates an internal error
func NewInternal(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewStore wraps an object-store failure
func NewStore(message string, err error) *AppError {
	return &AppError{Code: CodeStore, Message: message, Err: err}
}

// NewNoSession indicates an ambient lookup with no session open
func NewNoSession(message string) *AppError {
	return &AppError{Code: CodeNoSession, Message: message}
}

// NewSessionOpen indicates an open attempt while a session is already open
func NewSessionOpen(message string) *AppError {
	return &AppError{Code: CodeSessionOpen, Message: message}
}

// NewNoTransaction indicates an operation that requires a current transaction
func NewNoTransaction(message string) *AppError {
	return &AppError{Code: CodeNoTransaction, Message: message}
}

// NewTransactionDone indicates mutation of a committed or aborted transaction
func NewTransactionDone(message string) *AppError {
	return &AppError{Code: CodeTransactionDone, Message: message}
}

// NewNesting indicates unbalanced start/end calls
func NewNesting(message string) *AppError {
	return &AppError{Code: CodeTransactionNesting, Message: message}
}

// NewCommitFailed consolidates the failures that downgraded a commit to an abort
func NewCommitFailed(message string, err error) *AppError {
	return &AppError{Code: CodeCommitFailed, Message: message, Err: err}
}

// NewAbortFailed wraps a secondary abort failure together with the original
// error so neither is masked
func NewAbortFailed(abortErr, original error) *AppError {
	return &AppError{
		Code:    CodeAbortFailed,
		Message: fmt.Sprintf("abort failure: %v", abortErr),
		Err:     original,
	}
}

// NewCommandFailed wraps a persistence command execution failure
func NewCommandFailed(oid string, err error) *AppError {
	e := &AppError{Code: CodeCommandFailed, Message: "persistence command failed", Err: err}
	return e.WithDetail("oid", oid)
}

// NewConcurrentModification indicates a version conflict detected at flush
func NewConcurrentModification(oid string) *AppError {
	e := &AppError{Code: CodeConcurrentModification, Message: "object modified concurrently"}
	return e.WithDetail("oid", oid)
}

// NewUnauthorized creates an authentication failure
func NewUnauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

// --- Helpers ---

// Is checks if err is an AppError with the given code
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// From extracts AppError from err, wrapping unknown errors as internal
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: CodeInternal, Message: err.Error(), Err: err}
}
