package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deckforge/api/internal/platform/httpx"
	"github.com/deckforge/api/internal/services"
)

// QuoteHandlers serves anonymous price and shipping estimates.
type QuoteHandlers struct {
	quotes  services.QuoteService
	limiter *fixedWindowLimiter
}

// QuoteHandlersOption customises quote handlers.
type QuoteHandlersOption func(*QuoteHandlers)

// WithQuoteRateLimit caps requests per client address. Every quote triggers a carrier rate call.
func WithQuoteRateLimit(limit int, window time.Duration, clock func() time.Time) QuoteHandlersOption {
	return func(h *QuoteHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewQuoteHandlers constructs quote handlers.
func NewQuoteHandlers(quotes services.QuoteService, opts ...QuoteHandlersOption) *QuoteHandlers {
	h := &QuoteHandlers{quotes: quotes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers quote endpoints against the provided router.
func (h *QuoteHandlers) Routes(r chi.Router) {
	r.With(h.limiter.middleware).Post("/", h.createQuote)
}

type quoteRequest struct {
	CardType        string                 `json:"card_type" validate:"required,max=120"`
	DeckQuantity    int                    `json:"deck_quantity" validate:"required,gt=0"`
	CardsPerDeck    int                    `json:"cards_per_deck" validate:"required,gt=0"`
	ShippingDetails shippingDetailsPayload `json:"shipping_details"`
}

type quoteSummaryPayload struct {
	Cards    string `json:"cards"`
	Boxes    string `json:"boxes"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

type shippingOptionPayload struct {
	ServiceName       string `json:"service_name"`
	Price             string `json:"price"`
	Currency          string `json:"currency"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
}

type quoteResponse struct {
	Summary         quoteSummaryPayload     `json:"summary"`
	ShippingOptions []shippingOptionPayload `json:"shipping_options"`
}

func (h *QuoteHandlers) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "quote service unavailable", http.StatusServiceUnavailable))
		return
	}

	var body quoteRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	quote, err := h.quotes.Quote(ctx, services.QuoteRequest{
		CardType:        body.CardType,
		DeckQuantity:    body.DeckQuantity,
		CardsPerDeck:    body.CardsPerDeck,
		ShippingDetails: body.ShippingDetails.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := quoteResponse{
		Summary: quoteSummaryPayload{
			Cards:    money(quote.Summary.Cards),
			Boxes:    money(quote.Summary.Boxes),
			Shipping: money(quote.Summary.Shipping),
			Tax:      money(quote.Summary.Tax),
			Total:    money(quote.Summary.Total),
		},
		ShippingOptions: make([]shippingOptionPayload, 0, len(quote.ShippingOptions)),
	}
	for _, option := range quote.ShippingOptions {
		payload := shippingOptionPayload{
			ServiceName: option.ServiceName,
			Price:       money(option.Price),
			Currency:    option.Currency,
		}
		if option.EstimatedDelivery != nil {
			payload.EstimatedDelivery = formatTime(*option.EstimatedDelivery)
		}
		resp.ShippingOptions = append(resp.ShippingOptions, payload)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
