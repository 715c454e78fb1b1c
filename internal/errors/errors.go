// Package errors provides the unified error taxonomy for the framework.
// Every failure surfaced to callers or recorded in result objects carries
// one of the kinds below so that callers can branch on errors.Is/As
// instead of string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a framework error for handling policy decisions.
type Kind string

const (
	// KindUserBody is an error raised by the user-supplied transaction body.
	KindUserBody Kind = "USER_BODY"

	// KindCriticalAdapter is a failure of a critical adapter during a
	// fail-fast phase; it forces rollback.
	KindCriticalAdapter Kind = "CRITICAL_ADAPTER"

	// KindAdapter is a non-critical adapter failure; logged and aggregated,
	// never rolled back.
	KindAdapter Kind = "ADAPTER"

	// KindEventValidation is a pre-commit event validation failure.
	KindEventValidation Kind = "EVENT_VALIDATION"

	// KindPublish is an event bus publish failure; the transaction still commits.
	KindPublish Kind = "PUBLISH"

	// KindLogWrite is an operation-log or workflow-state write failure;
	// logged, never propagated.
	KindLogWrite Kind = "LOG_WRITE"

	// KindUndoStep is a single undo step failure; recorded in the undo result.
	KindUndoStep Kind = "UNDO_STEP"

	// KindRecovery is a recovery scan failure; recorded in the scan result.
	KindRecovery Kind = "RECOVERY"

	// KindConfiguration is a startup configuration failure; the process
	// must refuse to serve.
	KindConfiguration Kind = "CONFIGURATION"

	// KindStorage is a storage backend failure below the log-write policy layer.
	KindStorage Kind = "STORAGE"
)

// AppError is the single error type carried across framework boundaries.
type AppError struct {
	Kind    Kind
	Message string
	Cause   error

	// Details carries structured context for logs and result objects.
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches AppErrors by kind so sentinel comparison works across wraps.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return appErr.Kind == e.Kind
	}
	return false
}

// New creates an AppError with the given kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap creates an AppError wrapping a cause.
func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// WithDetail attaches a structured context value and returns the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of an error, or "" when it is not an AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// transientPatterns are the substrings that mark an error message as a
// transient infrastructure failure worth retrying.
var transientPatterns = []string{
	"timeout",
	"connection",
	"temporarily unavailable",
	"try again",
	"deadlock",
	"throttl",
}

// IsTransient determines whether an error looks like a transient failure.
// Matching is case-insensitive substring matching on the rendered message,
// which is the only contract storage drivers and remote services give us.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return IsTransientMessage(err.Error())
}

// IsTransientMessage applies the transient classification to a bare message,
// as recorded in workflow state rows.
func IsTransientMessage(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
