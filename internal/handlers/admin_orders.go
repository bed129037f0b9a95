package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/deckforge/api/internal/platform/auth"
	"github.com/deckforge/api/internal/platform/httpx"
	"github.com/deckforge/api/internal/services"
)

// AdminOrderHandlers exposes the staff-only order lifecycle endpoints.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers admin endpoints under the /admin group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Route("/orders/{orderId}", func(rt chi.Router) {
		rt.Put("/status", h.updateStatus)
		rt.Put("/printable", h.attachPrintable)
		rt.Get("/label", h.shippingLabel)
	})
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,max=40"`
}

type attachPrintableRequest struct {
	ObjectPath string `json:"object_path" validate:"required,max=1024"`
}

type shippingLabelResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, actor, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var body updateStatusRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		OrderID: orderID,
		Status:  body.Status,
		ActorID: actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) attachPrintable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, actor, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var body attachPrintableRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	order, err := h.orders.AttachPrintable(ctx, services.AttachPrintableCommand{
		OrderID:    orderID,
		ObjectPath: body.ObjectPath,
		ActorID:    actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) shippingLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, _, ok := h.prepare(w, r)
	if !ok {
		return
	}

	signed, err := h.orders.ShippingLabelURL(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, shippingLabelResponse{
		URL:       signed.URL,
		ExpiresAt: formatTime(signed.ExpiresAt),
	})
}

// prepare resolves the caller and order id shared by every admin route.
func (h *AdminOrderHandlers) prepare(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return "", "", false
	}
	if !identity.CanManageOrders() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
		return "", "", false
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", "", false
	}
	return orderID, identity.UID, true
}
