package errors

import (
	stderrors "errors"
	"fmt"
)

// AtriumError is the structured error type for Atrium.
// It provides rich context for error handling, logging, and user presentation.
type AtriumError struct {
	// Code is the unique error code (e.g., "ERR_701_INDEX_ROOT_BUSY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, Conflict, IO, etc.).
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
func (e *AtriumError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AtriumError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with AtriumError.
func (e *AtriumError) Is(target error) bool {
	if t, ok := target.(*AtriumError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AtriumError) WithDetail(key, value string) *AtriumError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *AtriumError) WithSuggestion(suggestion string) *AtriumError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AtriumError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AtriumError {
	return &AtriumError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AtriumError from an existing error.
// The error's message becomes the AtriumError message.
func Wrap(code string, err error) *AtriumError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AtriumError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *AtriumError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *AtriumError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AtriumError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AtriumError {
	return New(ErrCodeInternal, message, cause)
}

// NotFoundError reports an unknown identifier of the given kind ("job", "book", "pack").
func NotFoundError(kind, id string) *AtriumError {
	code := ErrCodeJobNotFound
	switch kind {
	case "book":
		code = ErrCodeBookNotFound
	case "pack":
		code = ErrCodePackNotFound
	}
	return New(code, fmt.Sprintf("%s %q not found", kind, id), nil).WithDetail(kind+"_id", id)
}

// BusyError reports that a build or repair already holds the index root.
func BusyError(indexRoot string) *AtriumError {
	return New(ErrCodeBusy, "a build or repair is already running for this index root", nil).
		WithDetail("index_root", indexRoot).
		WithSuggestion("Wait for the running job to finish, then retry")
}

// StaleError reports that the caller acted on a reference that no longer matches current state.
func StaleError(message string) *AtriumError {
	return New(ErrCodeStale, message, nil).
		WithSuggestion("Refresh and retry with the current revision")
}

// ExtractionError creates a per-file extraction error.
func ExtractionError(message string, cause error) *AtriumError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain holds an AtriumError with Retryable flag set.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	ae, ok := As(err)
	return ok && ae.Severity == SeverityFatal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return GetCategory(err) == CategoryValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return GetCategory(err) == CategoryNotFound }

// IsConflict reports whether err is a conflict (busy or stale) error.
func IsConflict(err error) bool { return GetCategory(err) == CategoryConflict }

// IsExtraction reports whether err is a per-file extraction error.
func IsExtraction(err error) bool { return GetCategory(err) == CategoryExtraction }

// As finds the first AtriumError in err's chain.
func As(err error) (*AtriumError, bool) {
	if err == nil {
		return nil, false
	}
	var ae *AtriumError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// GetCode extracts the error code from an AtriumError.
// Returns empty string if not an AtriumError.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AtriumError.
// Returns empty string if not an AtriumError.
func GetCategory(err error) Category {
	if ae, ok := As(err); ok {
		return ae.Category
	}
	return ""
}
