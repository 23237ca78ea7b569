package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/core"
	"storefront/internal/reconcile"
	"storefront/internal/types"
)

// PaymentVerifier checks an intent's outcome.
type PaymentVerifier interface {
	Verify(ctx context.Context, req reconcile.Request) (*types.VerificationResult, error)
}

// VerifyHandler serves payment verification. Its error bodies keep the
// {success, message} shape the result page reads, not the generic error
// envelope.
type VerifyHandler struct {
	verifier PaymentVerifier
	logger   *slog.Logger
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(verifier PaymentVerifier, logger *slog.Logger) *VerifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyHandler{verifier: verifier, logger: logger}
}

// RegisterRoutes mounts POST /verify-payment.
func (h *VerifyHandler) RegisterRoutes(r chi.Router) {
	r.Post("/verify-payment", h.Verify)
}

// Verify handles POST /verify-payment.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		appErr := types.AsAppError(err)
		core.JSON(w, r, http.StatusBadRequest, types.VerifyResponse{Success: false, Message: appErr.Message})
		return
	}

	result, err := h.verifier.Verify(r.Context(), reconcile.Request{ID: req.ID, Type: req.Type})
	if err != nil {
		appErr := types.AsAppError(err)
		if appErr.Code.IsValidation() {
			core.JSON(w, r, http.StatusBadRequest, types.VerifyResponse{Success: false, Message: appErr.Message})
			return
		}
		types.LoggerFromContext(r.Context(), h.logger).ErrorContext(r.Context(), "verify-payment failed",
			slog.String("intent_id", req.ID),
			slog.String("session_intent_id", types.IntentIDFromSecret(req.SessionID)),
			slog.String("code", string(appErr.Code)),
		)
		core.JSON(w, r, http.StatusInternalServerError, types.VerifyResponse{
			Success:   false,
			Message:   "Error verifying payment status",
			ErrorCode: string(types.ErrCodeVerificationFailed),
		})
		return
	}

	core.JSON(w, r, http.StatusOK, types.VerifyResponse{
		Success: result.Success,
		Status:  result.Status,
		Message: result.Message,
	})
}
