package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/core"
	"storefront/internal/types"
)

// ClientConfigHandler exposes the settings the payment widget needs.
type ClientConfigHandler struct {
	publishableKey string
	paymentMethod  string
	logger         *slog.Logger
}

// NewClientConfigHandler creates a ClientConfigHandler. An empty publishable
// key makes the endpoint answer 503.
func NewClientConfigHandler(publishableKey, paymentMethod string, logger *slog.Logger) *ClientConfigHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientConfigHandler{publishableKey: publishableKey, paymentMethod: paymentMethod, logger: logger}
}

// RegisterRoutes mounts GET /client-config.
func (h *ClientConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/client-config", h.Get)
}

// Get handles GET /client-config.
func (h *ClientConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.publishableKey == "" {
		h.logger.WarnContext(r.Context(), "client config requested without a publishable key")
		core.Error(w, r, types.NewAppError(types.ErrCodeUnavailableConfig, "Payment widget is not configured", nil))
		return
	}
	core.JSON(w, r, http.StatusOK, types.ClientConfigResponse{
		PublishableKey: h.publishableKey,
		PaymentMethod:  h.paymentMethod,
	})
}
