package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for metafind.
// It carries enough context for logging, exit codes and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_207_OUTPUT_WRITE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Index, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so errors.Is(err, &Error{Code: ...}) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// InvalidStateError reports misuse of the configure/run lifecycle.
// It is a programming fault and is never retried.
func InvalidStateError(message string) *Error {
	return New(ErrCodeInvalidState, message, nil)
}

// EngineError reports a search session that failed after starting.
func EngineError(message string, cause error) *Error {
	return New(ErrCodeSearchFailed, message, cause).
		WithSuggestion("Rebuild the index with 'metafind index' if the problem persists")
}

// SinkError reports an output destination that cannot accept writes.
func SinkError(message string, cause error) *Error {
	return New(ErrCodeOutputWrite, message, cause)
}

// IndexLockedError reports that another process holds the index write lock.
func IndexLockedError(path string) *Error {
	return New(ErrCodeIndexLocked, "index is locked by another process", nil).
		WithDetail("path", path).
		WithSuggestion("Wait for the running 'metafind index' or live search to finish")
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain holds an Error with Retryable set.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// GetCode extracts the error code from an Error.
// Returns empty string if the chain holds no Error.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
