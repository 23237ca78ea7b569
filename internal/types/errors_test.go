package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationMissingField,
		Message: "Both Price ID and Email are required",
	}

	want := "validation_missing_required_field: Both Price ID and Email are required"
	if appErr.Error() != want {
		t.Errorf("Error() = %q, want %q", appErr.Error(), want)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	appErr := NewAppError(ErrCodeUpstreamStripe, "stripe request failed", underlying)

	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should find the underlying error")
	}

	wrapped := fmt.Errorf("checkout: %w", appErr)
	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeUpstreamStripe {
		t.Errorf("Code = %q", target.Code)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidType, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeNotFoundProviderResource, http.StatusNotFound},
		{ErrCodePaymentDeclined, http.StatusPaymentRequired},
		{ErrCodeUnavailableConfig, http.StatusServiceUnavailable},
		{ErrCodeUpstreamStripe, http.StatusInternalServerError},
		{ErrCodeUpstreamUnavailable, http.StatusInternalServerError},
		{ErrCodeVerificationFailed, http.StatusInternalServerError},
		{ErrorCode("something_new"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorCodeFamilies(t *testing.T) {
	if !ErrCodeValidationInvalidEmail.IsValidation() {
		t.Error("validation code not classified as validation")
	}
	if ErrCodeUpstreamStripe.IsValidation() {
		t.Error("upstream code classified as validation")
	}
	for _, c := range []ErrorCode{ErrCodeUpstreamStripe, ErrCodeUpstreamRateLimited, ErrCodePaymentDeclined, ErrCodeNotFoundProviderResource} {
		if !c.IsUpstream() {
			t.Errorf("%s should be upstream", c)
		}
	}
	if ErrCodeInternalUnexpected.IsUpstream() {
		t.Error("internal code classified as upstream")
	}
	if ErrCodeNotFoundRoute.IsUpstream() {
		t.Error("route miss classified as upstream")
	}
}

func TestWithDetailsDoesNotMutate(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeUpstreamStripe, "failed", nil, map[string]any{"a": 1})
	copied := orig.WithDetails(map[string]any{"b": 2})

	if _, ok := orig.Details["b"]; ok {
		t.Error("WithDetails mutated the original")
	}
	if copied.Details["a"] != 1 || copied.Details["b"] != 2 {
		t.Errorf("merged details = %v", copied.Details)
	}
}

func TestAsAppError(t *testing.T) {
	if AsAppError(nil) != nil {
		t.Error("nil error should map to nil")
	}

	plain := errors.New("boom")
	got := AsAppError(plain)
	if got.Code != ErrCodeInternalUnexpected || !errors.Is(got, plain) {
		t.Errorf("plain error mapped to %+v", got)
	}

	appErr := NewValidationError(ErrCodeValidationInvalidEmail, "bad email")
	if AsAppError(fmt.Errorf("wrap: %w", appErr)) != appErr {
		t.Error("expected the wrapped AppError to be returned as-is")
	}
}

func TestReconciliationWarning(t *testing.T) {
	cause := errors.New("no such subscription")
	w := ReconciliationWarning{Step: StepSubscriptionUpdate, TargetID: "sub_1", Err: cause}

	if w.Error() != "reconciliation subscription_update failed for sub_1: no such subscription" {
		t.Errorf("Error() = %q", w.Error())
	}
	if !errors.Is(w, cause) {
		t.Error("warning should unwrap to the provider error")
	}

	noTarget := ReconciliationWarning{Step: StepSiblingList, Err: cause}
	if noTarget.Error() != "reconciliation sibling_list failed: no such subscription" {
		t.Errorf("Error() = %q", noTarget.Error())
	}
}
