// Package errors provides structured error handling for Atrium.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk)
//   - 3XX: Network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Not found errors
//   - 7XX: Conflict errors (busy index root, stale references)
//   - 8XX: Extraction errors (per-file, recovered into reports)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryNotFound indicates an unknown job, book or pack.
	CategoryNotFound Category = "NOT_FOUND"
	// CategoryConflict indicates the request collides with current state.
	CategoryConflict Category = "CONFLICT"
	// CategoryExtraction indicates a single source document could not be read.
	CategoryExtraction Category = "EXTRACTION"
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

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge   = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeFileCorrupt    = "ERR_206_FILE_CORRUPT"
	ErrCodeMetadataWrite  = "ERR_207_METADATA_WRITE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeDownloadFailed     = "ERR_303_DOWNLOAD_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath       = "ERR_402_INVALID_PATH"
	ErrCodeInvalidManifest   = "ERR_403_INVALID_MANIFEST"
	ErrCodeLicenseNotAllowed = "ERR_404_LICENSE_NOT_ALLOWED"
	ErrCodeRateLimited       = "ERR_405_RATE_LIMITED"
	ErrCodeInvalidJobType    = "ERR_406_INVALID_JOB_TYPE"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeChunkingFailed = "ERR_502_CHUNKING_FAILED"
	ErrCodeIndexFailed    = "ERR_503_INDEX_FAILED"

	// Not found errors (600-699)
	ErrCodeJobNotFound  = "ERR_601_JOB_NOT_FOUND"
	ErrCodeBookNotFound = "ERR_602_BOOK_NOT_FOUND"
	ErrCodePackNotFound = "ERR_603_PACK_NOT_FOUND"

	// Conflict errors (700-799)
	ErrCodeBusy  = "ERR_701_INDEX_ROOT_BUSY"
	ErrCodeStale = "ERR_702_STALE_REFERENCE"

	// Extraction errors (800-899)
	ErrCodeExtractionFailed = "ERR_801_EXTRACTION_FAILED"
	ErrCodeUnsupported      = "ERR_802_UNSUPPORTED_FORMAT"
	ErrCodeNoText           = "ERR_803_NO_TEXT"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryNotFound
	case '7':
		return CategoryConflict
	case '8':
		return CategoryExtraction
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeMetadataWrite:
		return SeverityFatal
	}

	// Retryable errors and per-file extraction problems are warnings:
	// the surrounding batch keeps going.
	if isRetryableCode(code) || categoryFromCode(code) == CategoryExtraction {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeDownloadFailed, ErrCodeBusy:
		return true
	default:
		return false
	}
}
