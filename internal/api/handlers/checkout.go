// Package handlers contains the HTTP handlers for the storefront API. Each
// handler owns a RegisterRoutes method that main hands to the core server as
// a route registrar.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/checkout"
	"storefront/internal/core"
	"storefront/internal/types"
)

// CheckoutCreator opens checkout sessions.
type CheckoutCreator interface {
	Create(ctx context.Context, req checkout.Request) (*types.CheckoutSession, error)
}

// CheckoutHandler serves session creation.
type CheckoutHandler struct {
	svc    CheckoutCreator
	logger *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(svc CheckoutCreator, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the checkout endpoints. /create-checkout is kept for
// clients built against the earlier path.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout", h.Create)
	r.Post("/create-checkout", h.Create)
}

// Create handles POST /checkout.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.svc.Create(r.Context(), checkout.Request{PriceID: req.PriceID, Email: req.Email})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, types.CheckoutResponse{
		Success:      true,
		ClientSecret: session.ClientSecret.Unmask(),
	})
}
