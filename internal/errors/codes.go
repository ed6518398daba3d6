// Package errors provides structured error handling for amanidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (files, indices, persisted state)
//   - 3XX: Document cache errors (attach/detach, batching)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (scheduler, indexers)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates file, index and persisted-state errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCache indicates document cache and batching errors.
	CategoryCache Category = "CACHE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// Storage errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeCacheLocked    = "ERR_204_CACHE_LOCKED"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodePersistFailed  = "ERR_206_PERSIST_FAILED"

	// Document cache errors (300-399)
	ErrCodeAttachConflict   = "ERR_301_ATTACH_CONFLICT"
	ErrCodeStaleAttachment  = "ERR_302_STALE_ATTACHMENT"
	ErrCodeAllocationFailed = "ERR_303_ALLOCATION_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath  = "ERR_402_INVALID_PATH"
	ErrCodeUnknownRoot  = "ERR_403_UNKNOWN_ROOT"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeSchedulerInternal = "ERR_502_SCHEDULER_INTERNAL"
	ErrCodeIndexerFailed     = "ERR_503_INDEXER_FAILED"
	ErrCodeIndexFailed       = "ERR_504_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "205" from "ERR_205_CORRUPT_INDEX"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCache
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeAttachConflict, ErrCodeSchedulerInternal:
		return SeverityFatal
	case ErrCodeAllocationFailed:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodePersistFailed, ErrCodeStaleAttachment, ErrCodeCacheLocked:
		return true
	default:
		return false
	}
}
