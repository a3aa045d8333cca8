package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for wikisearch.
// It provides rich context for error handling, logging, and user presentation.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_403_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Directory, Indexing, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the caller may re-submit the work.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexError.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigurationError reports a configuration problem. Fatal at startup only.
func ConfigurationError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// DirectoryOpenError reports an index directory that could not be opened.
func DirectoryOpenError(dir string, cause error) *IndexError {
	return New(ErrCodeDirectoryOpen, fmt.Sprintf("cannot open index directory %s", dir), cause).
		WithDetail("dir", dir)
}

// TransientIndexError reports a write or commit failure. The caller may re-enqueue.
func TransientIndexError(message string, cause error) *IndexError {
	return New(ErrCodeCommitFailed, message, cause)
}

// ExtractionError reports a content extraction failure that was degraded to empty text.
func ExtractionError(message string, cause error) *IndexError {
	return New(ErrCodeExtraction, message, cause)
}

// QuerySyntaxError reports a user query expression that cannot be parsed.
func QuerySyntaxError(message string, pos int) *IndexError {
	return New(ErrCodeInvalidQuery, message, nil).
		WithDetail("position", fmt.Sprint(pos))
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexError anywhere in the chain.
func GetCategory(err error) Category {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
