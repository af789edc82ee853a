package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("resource not found")

const (
	CodeMissingFile         = "missing_file"
	CodeInvalidFileType     = "invalid_file_type"
	CodeFileTooLarge        = "file_too_large"
	CodeInvalidRequest      = "invalid_request"
	CodeEnhancedUnavailable = "enhanced_unavailable"
)

// ValidationError is a user-correctable input problem.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// NotFoundError reports a missing job or backing file.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type QuotaReason string

const (
	QuotaFreeExhausted QuotaReason = "free_quota_exhausted"
	QuotaPaidExhausted QuotaReason = "paid_quota_exhausted"
)

// QuotaError is an admission denial. Reason tells the client which upsell to show.
type QuotaError struct {
	Reason    QuotaReason
	Plan      Plan
	Remaining int
}

func (e *QuotaError) Error() string {
	switch e.Reason {
	case QuotaFreeExhausted:
		return "free conversion used, please upgrade to a paid plan"
	case QuotaPaidExhausted:
		return fmt.Sprintf("no conversions left on the %s plan, please upgrade", e.Plan)
	default:
		return "conversion quota exhausted"
	}
}

// ConflictError is returned when a job is not in a state that allows the request.
type ConflictError struct {
	JobID  string
	Status JobStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s is %s", e.JobID, e.Status)
}

// TimeoutError marks a strategy phase that ran past its limit.
type TimeoutError struct {
	Strategy string
	Phase    string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.Strategy, e.Phase, e.Limit)
}

// ConversionError is returned once every strategy in a chain failed.
type ConversionError struct {
	Attempts int
	Last     error
}

func (e *ConversionError) Error() string {
	if e.Last == nil {
		return "conversion failed: no strategies available"
	}
	return fmt.Sprintf("conversion failed after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ConversionError) Unwrap() error {
	return e.Last
}
