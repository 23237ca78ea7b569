package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/core"
	"storefront/internal/types"
)

// CatalogLister lists the purchasable products.
type CatalogLister interface {
	List(ctx context.Context) ([]types.Product, error)
}

// PricesHandler serves the catalog.
type PricesHandler struct {
	catalog CatalogLister
	logger  *slog.Logger
}

// NewPricesHandler creates a PricesHandler.
func NewPricesHandler(catalog CatalogLister, logger *slog.Logger) *PricesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PricesHandler{catalog: catalog, logger: logger}
}

// RegisterRoutes mounts GET /prices.
func (h *PricesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/prices", h.List)
}

// List handles GET /prices.
func (h *PricesHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if products == nil {
		products = []types.Product{}
	}
	w.Header().Set("Cache-Control", "no-store")
	core.JSON(w, r, http.StatusOK, types.PricesResponse{Products: products})
}
