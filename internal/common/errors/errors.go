// Package errors provides the error taxonomy shared by the store, the event consumer and the HTTP API.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeBusUnavailable   ErrorCode = "BUS_UNAVAILABLE"
	ErrCodeDispatchRejected ErrorCode = "DISPATCH_REJECTED"

	ErrCodeDecodeError      ErrorCode = "DECODE_ERROR"
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeMissingVariable  ErrorCode = "MISSING_VARIABLE"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches on the error code, so the sentinels below work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &StandardError{Code: ErrCodeNotFound, Message: "not found"}
	ErrAccessDenied      = &StandardError{Code: ErrCodeAccessDenied, Message: "access denied"}
	ErrUnauthorized      = &StandardError{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	ErrValidationFailed  = &StandardError{Code: ErrCodeValidationFailed, Message: "validation failed"}
	ErrInvalidTransition = &StandardError{Code: ErrCodeInvalidTransition, Message: "invalid status transition"}
	ErrStoreUnavailable  = &StandardError{Code: ErrCodeStoreUnavailable, Message: "store unavailable"}
	ErrBusUnavailable    = &StandardError{Code: ErrCodeBusUnavailable, Message: "message bus unavailable"}
	ErrDispatchRejected  = &StandardError{Code: ErrCodeDispatchRejected, Message: "dispatch rejected"}
	ErrDecode            = &StandardError{Code: ErrCodeDecodeError, Message: "decode error"}
	ErrTemplateNotFound  = &StandardError{Code: ErrCodeTemplateNotFound, Message: "template not found"}
	ErrMissingVariable   = &StandardError{Code: ErrCodeMissingVariable, Message: "missing template variable"}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", kind),
		Details:   fmt.Sprintf("id: %s", id),
		Timestamp: time.Now().UTC(),
	}
}

func NewAccessDeniedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAccessDenied,
		Message:   "Access denied",
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

func NewUnauthorizedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorized,
		Message:   "Authentication failed",
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable input error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed",
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Invalid status transition",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError wraps a backend failure. The store never retries on its own.
func NewStoreUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Notification store unavailable",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewBusUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBusUnavailable,
		Message:   "Message bus unavailable",
		Details:   fmt.Sprint(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDispatchRejectedError is returned when the background dispatcher refuses a task.
func NewDispatchRejectedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchRejected,
		Message:   "Background dispatch rejected",
		Details:   fmt.Sprint(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDecodeError marks a message that can never be processed.
func NewDecodeError(details string, err error) *StandardError {
	if err != nil {
		details = fmt.Sprintf("%s: %v", details, err)
	}
	return &StandardError{
		Code:      ErrCodeDecodeError,
		Message:   "Message could not be decoded",
		Details:   details,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewTemplateNotFoundError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found in registry",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Timestamp: time.Now().UTC(),
	}
}

func NewMissingVariableError(templateID string, missing []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingVariable,
		Message:   "Template variables missing",
		Details:   fmt.Sprintf("templateId: %s, missing: %s", templateID, strings.Join(missing, ",")),
		Metadata:  map[string]interface{}{"missing": missing},
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   fmt.Sprint(err),
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandard returns the StandardError in err's chain, or wraps err as an internal error.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if goerrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// Code returns the error code carried by err.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsStandard(err).Code
}

// IsRetryable reports whether err is marked as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return AsStandard(err).Retryable
}

// HTTPStatus maps an error to the response status used by the API.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeNotFound, ErrCodeTemplateNotFound:
		return http.StatusNotFound
	case ErrCodeAccessDenied:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeValidationFailed, ErrCodeDecodeError, ErrCodeMissingVariable:
		return http.StatusBadRequest
	case ErrCodeInvalidTransition:
		return http.StatusConflict
	case ErrCodeStoreUnavailable, ErrCodeBusUnavailable, ErrCodeDispatchRejected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeNotFound, ErrCodeInvalidTransition:
		return "NOTIFICATION"
	case ErrCodeAccessDenied, ErrCodeUnauthorized:
		return "AUTH"
	case ErrCodeTemplateNotFound, ErrCodeMissingVariable:
		return "TEMPLATE"
	case ErrCodeStoreUnavailable:
		return "STORE"
	case ErrCodeBusUnavailable, ErrCodeDispatchRejected, ErrCodeDecodeError:
		return "MESSAGING"
	case ErrCodeValidationFailed:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
