// Package errors provides standardized error handling for the loan pipeline core.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"

	ErrCodeJobConflict            ErrorCode = "JOB_CONFLICT"
	ErrCodeJobNotCancellable      ErrorCode = "JOB_NOT_CANCELLABLE"
	ErrCodeStageTransitionInvalid ErrorCode = "STAGE_TRANSITION_INVALID"

	ErrCodeWebhookUnauthorized ErrorCode = "WEBHOOK_UNAUTHORIZED"

	ErrCodeProviderTransient ErrorCode = "PROVIDER_TRANSIENT"
	ErrCodeProviderPermanent ErrorCode = "PROVIDER_PERMANENT"

	ErrCodeConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeDatabaseFailure  ErrorCode = "DATABASE_FAILURE"
	ErrCodeNotificationSend ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is lets errors.Is match two StandardErrors by code.
func (e *StandardError) Is(target error) bool {
	var se *StandardError
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// CodeOf extracts the ErrorCode from an error chain, or "" when none is present.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether the error chain carries a retryable StandardError.
// Unknown errors count as retryable so transient infrastructure failures are
// not silently turned terminal.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable bad-input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable missing-resource error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewJobConflictError signals that an active signing job already exists for the
// application. The existing job id is carried in Metadata so callers can poll it.
func NewJobConflictError(applicationID, existingJobID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeJobConflict,
		Message:   "An active signing job already exists for this application",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Metadata:  map[string]interface{}{"existingJobId": existingJobID},
		Timestamp: time.Now().UTC(),
	}
}

// NewJobNotCancellableError creates a non-retryable cancellation refusal.
func NewJobNotCancellableError(jobID, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeJobNotCancellable,
		Message:   "Signing job can no longer be cancelled",
		Details:   fmt.Sprintf("jobId: %s, status: %s", jobID, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStageTransitionError creates a non-retryable invalid-transition error.
func NewStageTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageTransitionInvalid,
		Message:   "Stage transition not permitted",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewWebhookUnauthorizedError creates a non-retryable signature mismatch error.
func NewWebhookUnauthorizedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookUnauthorized,
		Message:   "Webhook signature verification failed",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientProviderError creates a retryable signing provider error.
func NewTransientProviderError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTransient,
		Message:   "Signing provider temporarily unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermanentProviderError creates a terminal provider error, e.g. a declined
// signer or an expired document. Never retried; surfaced to staff instead.
func NewPermanentProviderError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderPermanent,
		Message:   "Signing provider rejected the document",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigurationError creates a non-retryable configuration error. Callers
// log it and fall back to defaults rather than failing the applicant flow.
func NewConfigurationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   "Invalid pipeline configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError creates a retryable database failure.
func NewDatabaseError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseFailure,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendError creates a retryable notification delivery error.
// Notification failures are logged by callers, never propagated.
func NewNotificationSendError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSend,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. HTTP Mapping
// ==========================

// HTTPStatus maps an error code to the status the API layer should answer with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return 400
	case ErrCodeWebhookUnauthorized:
		return 401
	case ErrCodeNotFound:
		return 404
	case ErrCodeJobConflict, ErrCodeJobNotCancellable, ErrCodeStageTransitionInvalid:
		return 409
	case ErrCodeProviderTransient:
		return 503
	default:
		return 500
	}
}
