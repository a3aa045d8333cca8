// Package errors provides structured error handling for wikisearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index directory errors
//   - 4XX: Query and input validation errors
//   - 5XX: Indexing pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryDirectory indicates index directory errors.
	CategoryDirectory Category = "DIRECTORY"
	// CategoryValidation indicates query and input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryIndexing indicates failures inside the indexing pipeline.
	CategoryIndexing Category = "INDEXING"
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeNoIndexDirs     = "ERR_103_NO_INDEX_DIRS"
	ErrCodeDirectoryLocked = "ERR_104_DIRECTORY_LOCKED"

	// Directory errors (200-299)
	ErrCodeDirectoryOpen   = "ERR_201_DIRECTORY_OPEN"
	ErrCodeNoGeneration    = "ERR_202_NO_GENERATION"
	ErrCodeCorruptIndex    = "ERR_205_CORRUPT_INDEX"
	ErrCodeNoSearchableDir = "ERR_207_NO_SEARCHABLE_DIRECTORY"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidSort  = "ERR_405_INVALID_SORT"

	// Indexing errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeSearchFailed   = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed    = "ERR_505_INDEX_FAILED"
	ErrCodeCommitFailed   = "ERR_506_COMMIT_FAILED"
	ErrCodeExtraction     = "ERR_507_EXTRACTION_FAILED"
	ErrCodeWorkerStopped  = "ERR_508_WORKER_STOPPED"
	ErrCodeEnumerateFails = "ERR_509_ENUMERATE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryDirectory
	case '4':
		return CategoryValidation
	case '5':
		if numStr == "501" {
			return CategoryInternal
		}
		return CategoryIndexing
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeNoIndexDirs, ErrCodeDirectoryLocked, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeDirectoryOpen, ErrCodeExtraction, ErrCodeCorruptIndex:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Retrying is left to the caller; the indexing worker never retries on its own.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexFailed, ErrCodeCommitFailed:
		return true
	default:
		return false
	}
}
