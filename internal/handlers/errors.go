package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/deckforge/api/internal/payments"
	"github.com/deckforge/api/internal/platform/httpx"
	"github.com/deckforge/api/internal/platform/observability"
	"github.com/deckforge/api/internal/services"
	"github.com/deckforge/api/internal/shipping"
)

const (
	upstreamErrorMessage      = "an upstream provider failed, please retry later"
	configurationErrorMessage = "the service is not configured to handle this request"
)

// writeServiceError maps service sentinels onto the HTTP error envelope. Upstream and
// configuration failures get a generic message and the detail goes to the request log.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	logger := observability.FromContext(ctx)

	var httpErr httpx.Error
	switch {
	case errors.As(err, &httpErr):
		httpx.WriteError(ctx, w, httpErr)
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrQuoteInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnsupportedPayment),
		errors.Is(err, payments.ErrUnsupportedPaymentMethod):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_payment_method", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderLabelNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("label_not_found", "no shipping label stored for order", http.StatusNotFound))
	case errors.Is(err, services.ErrPriceNotFound),
		errors.Is(err, services.ErrPriceTierNotFound),
		errors.Is(err, services.ErrCardPriceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("price_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, shipping.ErrNoRatesAvailable):
		httpx.WriteError(ctx, w, httpx.NewError("no_shipping_options", "no shipping options available for destination", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderDuplicateTransaction):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_transaction", "transaction already used by another order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be verified", http.StatusPaymentRequired))
	case errors.Is(err, shipping.ErrCarrierNotConfigured),
		errors.Is(err, payments.ErrGatewayNotConfigured),
		errors.Is(err, services.ErrPricingMisconfigured),
		errors.Is(err, services.ErrOrderStorageNotConfigured):
		logger.Error("configuration error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("configuration_error", configurationErrorMessage, http.StatusInternalServerError))
	case errors.Is(err, services.ErrOrderUpstream),
		errors.Is(err, shipping.ErrCarrierUnavailable),
		errors.Is(err, payments.ErrGatewayUnavailable):
		logger.Warn("upstream failure", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("upstream_error", upstreamErrorMessage, http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCounterUnavailable):
		logger.Warn("dependency unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		logger.Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
