package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error codes carried in ServiceError.Code and in the outcome header.
const (
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeInsufficientData        = "INSUFFICIENT_DATA"
	ErrCodeDiscrepancyTooLarge     = "DISCREPANCY_TOO_LARGE"
	ErrCodeValidationDisagreement  = "VALIDATION_DISAGREEMENT"
	ErrCodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrCodeAudit                   = "AUDIT_ERROR"
	ErrCodeDatabase                = "DATABASE_ERROR"
	ErrCodeInternalServer          = "INTERNAL_SERVER_ERROR"
)

// Staging outcomes. The pipeline never returns these; ConsolidatedResult.Outcome
// derives them from the case number.
var (
	ErrInsufficientData        = errors.New("insufficient clinical data: creatinine and SDMA are both absent")
	ErrDiscrepancyTooLarge     = errors.New("creatinine and SDMA stages differ by two or more")
	ErrValidationDisagreement  = errors.New("rule validation rejected the candidate stage")
	ErrCollaboratorUnavailable = errors.New("evidence retriever unavailable")
)

// ServiceError is the error body returned by the HTTP API.
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}

// NewServiceError stamps the error with the current UTC time.
func NewServiceError(code, message, details, requestID string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ErrorCode classifies err. A nil error has no code.
func ErrorCode(err error) string {
	var fields ValidationErrors
	var field *ValidationError
	var svc *ServiceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &svc):
		return svc.Code
	case errors.As(err, &fields), errors.As(err, &field):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrInsufficientData):
		return ErrCodeInsufficientData
	case errors.Is(err, ErrDiscrepancyTooLarge):
		return ErrCodeDiscrepancyTooLarge
	case errors.Is(err, ErrValidationDisagreement):
		return ErrCodeValidationDisagreement
	case errors.Is(err, ErrCollaboratorUnavailable):
		return ErrCodeCollaboratorUnavailable
	default:
		return ErrCodeInternalServer
	}
}

// ValidationError describes one rejected form field. Field uses the form's
// own key, e.g. "creatinina".
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every field problem found in one request.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	if len(v) == 1 {
		return v[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
}
