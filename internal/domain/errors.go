package domain

import "fmt"

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
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeConstraintViolation marks uniqueness violations that are the
	// guarantee being enforced (the canonical conflict pair); callers treat
	// them as success-via-idempotency, not as failures.
	ErrCodeConstraintViolation     = "CONSTRAINT_VIOLATION"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeAlreadyExists           = "ALREADY_EXISTS"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrCodeJudgeFailure            = "JUDGE_FAILURE"
	ErrCodeInternalError           = "INTERNAL_ERROR"
	ErrCodeInvalidOperation        = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrEmptyChunkBatch       = NewDomainError(ErrCodeValidation, "chunk batch cannot be empty")
	ErrInvalidClassification = NewDomainError(ErrCodeValidation, "invalid classification tag")
	ErrInvalidConfidenceTier = NewDomainError(ErrCodeValidation, "invalid confidence tier")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrChunkNotFound     = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrSourceNotFound    = NewDomainError(ErrCodeNotFound, "source not found")
	ErrPackNotFound      = NewDomainError(ErrCodeNotFound, "pack not found")
	ErrVersionNotFound   = NewDomainError(ErrCodeNotFound, "pack version not found")
	ErrBaselineNotFound  = NewDomainError(ErrCodeNotFound, "baseline not found")
	ErrWorkspaceNotFound = NewDomainError(ErrCodeNotFound, "workspace not found")
	ErrAPIKeyNotFound    = NewDomainError(ErrCodeNotFound, "api key not found")
)

// Already exists errors
var (
	ErrWorkspaceAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "workspace already exists")
	ErrAPIKeyAlreadyExists    = NewDomainError(ErrCodeAlreadyExists, "api key already exists")
)

// Collaborator errors, surfaced to the invoking orchestration layer which
// owns the retry decision. The engine itself retries at most once, and only
// idempotent reads.
var (
	ErrSimilaritySearchUnavailable = NewDomainError(ErrCodeCollaboratorUnavailable, "similarity search unavailable")
)

// Judge errors. Never escalated to a crash; each component degrades to its
// documented default section instead.
var (
	ErrJudgeTimeout       = NewDomainError(ErrCodeJudgeFailure, "judge call timed out")
	ErrJudgeUnparseable   = NewDomainError(ErrCodeJudgeFailure, "judge returned unparseable output")
	ErrJudgeCallFailed    = NewDomainError(ErrCodeJudgeFailure, "judge call failed")
	ErrJudgeNotConfigured = NewDomainError(ErrCodeJudgeFailure, "judge client not configured")
)

// Constraint violations
var (
	ErrDuplicateConflictPair = NewDomainError(ErrCodeConstraintViolation, "conflict already recorded for chunk pair")
)

// Authorization errors
var (
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Operation errors
var (
	ErrNoApprovedVersion = NewDomainError(ErrCodeInvalidOperation, "pack has no approved version to baseline")
)
