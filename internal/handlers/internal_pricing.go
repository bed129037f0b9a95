package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/deckforge/api/internal/platform/auth"
	"github.com/deckforge/api/internal/platform/httpx"
	"github.com/deckforge/api/internal/platform/observability"
	"github.com/deckforge/api/internal/services"
)

// InternalPricingHandlers serves scheduler-triggered maintenance for the price table.
// Authentication is applied by the /internal group middleware.
type InternalPricingHandlers struct {
	pricing services.PricingEngine
}

// NewInternalPricingHandlers constructs internal pricing handlers.
func NewInternalPricingHandlers(pricing services.PricingEngine) *InternalPricingHandlers {
	return &InternalPricingHandlers{pricing: pricing}
}

// Routes registers internal pricing endpoints.
func (h *InternalPricingHandlers) Routes(r chi.Router) {
	r.Post("/pricing/refresh", h.refresh)
}

type pricingRefreshResponse struct {
	Version string `json:"version"`
}

func (h *InternalPricingHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing engine unavailable", http.StatusServiceUnavailable))
		return
	}

	version, err := h.pricing.Refresh(ctx)
	if err != nil {
		observability.FromContext(ctx).Error("price table refresh failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("pricing_refresh_failed", "price table could not be reloaded", http.StatusServiceUnavailable))
		return
	}

	fields := []zap.Field{zap.String("version", version)}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", svc.Email))
	}
	observability.FromContext(ctx).Info("price table refreshed", fields...)
	httpx.WriteJSON(w, http.StatusOK, pricingRefreshResponse{Version: version})
}
