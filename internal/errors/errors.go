package errors

import (
	"errors"
	"fmt"
)

// AmanError is the structured error type for amanidx.
// It carries a stable code plus enough context for logging and CLI output.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Cache, etc.).
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
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, ErrCorruptIndex) holds for any
// corrupt-index error regardless of message or cause.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrCorruptIndex      = &AmanError{Code: ErrCodeCorruptIndex}
	ErrAttachConflict    = &AmanError{Code: ErrCodeAttachConflict}
	ErrStaleAttachment   = &AmanError{Code: ErrCodeStaleAttachment}
	ErrAllocationFailed  = &AmanError{Code: ErrCodeAllocationFailed}
	ErrSchedulerInternal = &AmanError{Code: ErrCodeSchedulerInternal}
	ErrUnknownRoot       = &AmanError{Code: ErrCodeUnknownRoot}
	ErrCacheLocked       = &AmanError{Code: ErrCodeCacheLocked}
	ErrPersistFailed     = &AmanError{Code: ErrCodePersistFailed}
)

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// CorruptIndexError reports an on-disk index that failed validation.
func CorruptIndexError(path string, cause error) *AmanError {
	return New(ErrCodeCorruptIndex, "index is corrupted: "+path, cause).
		WithDetail("path", path).
		WithSuggestion("The index is rebuilt automatically on the next scan")
}

// AttachConflictError reports a second attach on a cache that already
// holds a live attachment.
func AttachConflictError(cache, attached, requested string) *AmanError {
	return New(ErrCodeAttachConflict,
		fmt.Sprintf("cache %s already has %q attached, cannot attach %q", cache, attached, requested), nil).
		WithDetail("cache", cache)
}

// StaleAttachmentError reports an attachment whose batch was reclaimed.
func StaleAttachmentError(cache string, epoch, current uint64) *AmanError {
	return New(ErrCodeStaleAttachment,
		fmt.Sprintf("attachment on %s is stale (epoch %d, current %d)", cache, epoch, current), nil).
		WithDetail("cache", cache)
}

// AllocationError reports a failed document buffer allocation.
func AllocationError(requested int, cause error) *AmanError {
	return New(ErrCodeAllocationFailed,
		fmt.Sprintf("document buffer allocation of %d bytes failed", requested), cause)
}

// SchedulerInternalError reports a failure in the scheduler's own bookkeeping.
func SchedulerInternalError(message string, cause error) *AmanError {
	return New(ErrCodeSchedulerInternal, message, cause)
}

// IndexerError reports a failure raised by an indexer factory callback.
func IndexerError(indexer, callback string, cause error) *AmanError {
	return New(ErrCodeIndexerFailed,
		fmt.Sprintf("indexer %s failed in %s", indexer, callback), cause).
		WithDetail("indexer", indexer).
		WithDetail("callback", callback)
}

// PersistError reports a failed write of persisted state.
func PersistError(message string, cause error) *AmanError {
	return New(ErrCodePersistFailed, message, cause)
}

// IsRetryable reports whether err, or any AmanError it wraps, is retryable.
func IsRetryable(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether err, or any AmanError it wraps, is fatal.
func IsFatal(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first AmanError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first AmanError in the chain.
func GetCategory(err error) Category {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
