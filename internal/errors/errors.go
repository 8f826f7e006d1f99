// Package errors provides structured error types for moisturizer.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryMigration  ErrorCategory = "MIGRATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategorySnapshot   ErrorCategory = "SNAPSHOT"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidTypeID  = "INVALID_TYPE_ID"
	CodeInvalidField   = "INVALID_FIELD"
	CodeFieldConflict  = "FIELD_CONFLICT"
	CodeTypeConflict   = "TYPE_CONFLICT"
	CodeInvalidPayload = "INVALID_PAYLOAD"

	// Catalog codes
	CodeTypeNotFound       = "TYPE_NOT_FOUND"
	CodeTypeExists         = "TYPE_EXISTS"
	CodeCatalogReadFailed  = "CATALOG_READ_FAILED"
	CodeCatalogWriteFailed = "CATALOG_WRITE_FAILED"

	// Migration codes
	CodeTableCreateFailed = "TABLE_CREATE_FAILED"
	CodeTableAlterFailed  = "TABLE_ALTER_FAILED"
	CodeTableDropFailed   = "TABLE_DROP_FAILED"

	// Storage codes
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Snapshot codes
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeSnapshotCorrupt  = "SNAPSHOT_CORRUPT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MoisturizerError is the structured error type used throughout the system.
type MoisturizerError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MoisturizerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MoisturizerError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MoisturizerError) Is(target error) bool {
	var t *MoisturizerError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MoisturizerError.
func New(category ErrorCategory, code, message string) *MoisturizerError {
	return &MoisturizerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MoisturizerError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MoisturizerError {
	return &MoisturizerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MoisturizerError) WithDetails(details map[string]interface{}) *MoisturizerError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MoisturizerError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// IsNotFound reports whether err is a "type not found" or "object not found"
// condition. Not-found is never conflated with an empty result.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case CodeTypeNotFound, CodeObjectNotFound, CodeSnapshotNotFound:
		return true
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MoisturizerError.
func GetCategory(err error) ErrorCategory {
	var me *MoisturizerError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MoisturizerError.
func GetCode(err error) string {
	var me *MoisturizerError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Table alters are
// additive and idempotent, so a failed alter may simply be reissued.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeCatalogWriteFailed:
		return true
	case category == ErrCategoryMigration && code == CodeTableAlterFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *MoisturizerError {
	return New(ErrCategoryValidation, code, message)
}

func NewCatalogError(code, message string, cause error) *MoisturizerError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewMigrationError(code, message string, cause error) *MoisturizerError {
	return Wrap(ErrCategoryMigration, code, message, cause)
}

func NewStorageError(code, message string, cause error) *MoisturizerError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSnapshotError(code, message string, cause error) *MoisturizerError {
	return Wrap(ErrCategorySnapshot, code, message, cause)
}

func NewInternalError(message string, cause error) *MoisturizerError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// TypeNotFound returns the canonical error for an unknown type id.
func TypeNotFound(typeID string) *MoisturizerError {
	return New(ErrCategoryCatalog, CodeTypeNotFound, fmt.Sprintf("type %q not found", typeID)).
		WithDetails(map[string]interface{}{"type_id": typeID})
}
