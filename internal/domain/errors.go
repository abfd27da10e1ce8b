package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeTransientUpstream = "TRANSIENT_UPSTREAM"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrMissingContentHash   = NewDomainError(ErrCodeValidation, "metadata must include content_hash")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query cannot be empty")
)

// Not found / duplicate errors
var (
	ErrChunkNotFound      = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
	ErrChunkAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "knowledge chunk already exists")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Configuration errors
var (
	ErrNoEmbeddingProvider = NewDomainError(ErrCodeConfiguration, "no embedding provider configured")
)

// IsDuplicate reports whether err marks an already-stored chunk.
// Duplicates are not failures: callers count them as skipped.
func IsDuplicate(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr) && derr.Code == ErrCodeAlreadyExists
}
