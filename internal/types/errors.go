package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of string
// literals so the HTTP status mapping stays in one place.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidType  ErrorCode = "validation_invalid_payment_type"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"
	ErrCodeValidationUnknownPrice ErrorCode = "validation_unknown_price"
	ErrCodeValidationWebhookSig   ErrorCode = "validation_invalid_webhook_signature"

	// Rate limiting (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundProviderResource ErrorCode = "not_found_provider_resource"
	ErrCodeNotFoundRoute            ErrorCode = "not_found_route"

	// Service configuration (503)
	ErrCodeUnavailableConfig ErrorCode = "unavailable_not_configured"

	// Internal/Upstream (500)
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamBadResponse ErrorCode = "upstream_unexpected_response"
	ErrCodeVerificationFailed  ErrorCode = "verification_failed"

	// Payment-specific
	ErrCodePaymentDeclined ErrorCode = "payment_declined"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Provider failures surface as 500; clients of the checkout endpoints
// expect 500 for any upstream problem.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case c == ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case c == ErrCodePaymentDeclined:
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "unavailable_"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsValidation reports whether the code belongs to the validation family.
func (c ErrorCode) IsValidation() bool {
	return strings.HasPrefix(string(c), "validation_")
}

// IsUpstream reports whether the code describes a payment provider failure.
func (c ErrorCode) IsUpstream() bool {
	s := string(c)
	return strings.HasPrefix(s, "upstream_") || c == ErrCodePaymentDeclined || c == ErrCodeNotFoundProviderResource
}

// AppError is the standard application error type. Services return it so the
// API layer can pick a status code and a client-safe message without string
// matching.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// NewValidationError is shorthand for a missing or malformed request field.
func NewValidationError(code ErrorCode, message string) *AppError {
	return NewAppError(code, message, nil)
}

// AsAppError extracts an *AppError from err's chain. Non-AppErrors are wrapped
// as internal_unexpected_error so callers always get a code to branch on.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(ErrCodeInternalUnexpected, "an unexpected error occurred", err)
}

// ReconciliationStep names a best-effort bookkeeping action performed after a
// confirmed payment.
type ReconciliationStep string

const (
	StepDefaultPaymentMethod ReconciliationStep = "default_payment_method"
	StepSubscriptionUpdate   ReconciliationStep = "subscription_update"
	StepSiblingList          ReconciliationStep = "sibling_list"
	StepSiblingCancel        ReconciliationStep = "sibling_cancel"
)

// ReconciliationWarning records a failed bookkeeping step. Warnings are logged
// and counted but never turn a confirmed payment into a failed verification.
type ReconciliationWarning struct {
	Step     ReconciliationStep
	TargetID string
	Err      error
}

// Error implements the error interface so warnings can be joined and logged.
func (w ReconciliationWarning) Error() string {
	if w.TargetID == "" {
		return fmt.Sprintf("reconciliation %s failed: %v", w.Step, w.Err)
	}
	return fmt.Sprintf("reconciliation %s failed for %s: %v", w.Step, w.TargetID, w.Err)
}

// Unwrap exposes the provider error.
func (w ReconciliationWarning) Unwrap() error {
	return w.Err
}
