package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/shipping"
)

// ErrQuoteInvalidInput signals the quote request is incomplete or malformed.
var ErrQuoteInvalidInput = errors.New("quote: invalid input")

// QuoteServiceDeps bundles collaborators required to construct the quote service.
type QuoteServiceDeps struct {
	Pricing PricingEngine
	Carrier CarrierClient
	Package PackageEstimator
	TaxRate decimal.Decimal
	Now     func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type quoteService struct {
	pricing PricingEngine
	carrier CarrierClient
	pkg     PackageEstimator
	taxRate decimal.Decimal
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ QuoteService = (*quoteService)(nil)

// NewQuoteService constructs the quote service.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Pricing == nil {
		return nil, errors.New("quote service: pricing engine is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("quote service: carrier client is required")
	}
	taxRate := deps.TaxRate
	if taxRate.IsZero() {
		taxRate = defaultTaxRate
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &quoteService{
		pricing: deps.Pricing,
		carrier: deps.Carrier,
		pkg:     deps.Package,
		taxRate: taxRate,
		now:     now,
		logger:  logger,
	}, nil
}

// Quote prices the deck order and fetches carrier options concurrently. The first carrier option
// is the selected one; carriers do not guarantee it is the cheapest.
func (s *quoteService) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	cardType := strings.TrimSpace(req.CardType)
	if cardType == "" {
		return Quote{}, fmt.Errorf("%w: card_type is required", ErrQuoteInvalidInput)
	}
	if req.DeckQuantity <= 0 || req.CardsPerDeck <= 0 {
		return Quote{}, fmt.Errorf("%w: deck_quantity and cards_per_deck must be positive", ErrQuoteInvalidInput)
	}
	destination, err := normaliseShippingDetails(req.ShippingDetails)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrQuoteInvalidInput, err)
	}

	start := s.now()
	var (
		unit    UnitPrice
		options []domain.ShippingOption
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		price, err := s.pricing.CalculatePrice(gctx, cardType, req.DeckQuantity, req.CardsPerDeck)
		if err != nil {
			return err
		}
		unit = price
		return nil
	})
	g.Go(func() error {
		rates, err := s.carrier.GetRates(gctx, destination, s.pkg.Estimate(req.DeckQuantity, req.CardsPerDeck))
		if err != nil {
			return err
		}
		if len(rates) == 0 {
			return shipping.ErrNoRatesAvailable
		}
		options = rates
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger(ctx, "quote.failed", map[string]any{
			"cardType": cardType,
			"decks":    req.DeckQuantity,
			"country":  destination.CountryCode,
			"error":    err.Error(),
		})
		return Quote{}, err
	}

	costs := computeCosts(unit, req.DeckQuantity, options[0].Price, s.taxRate)
	s.logger(ctx, "quote.completed", map[string]any{
		"cardType":   cardType,
		"decks":      req.DeckQuantity,
		"country":    destination.CountryCode,
		"options":    len(options),
		"total":      costs.Total.StringFixed(2),
		"durationMs": s.now().Sub(start).Milliseconds(),
	})
	return Quote{
		Summary: domain.QuoteSummary{
			Cards:    costs.CardsSubtotal,
			Boxes:    costs.BoxesSubtotal,
			Shipping: costs.Shipping,
			Tax:      costs.Tax,
			Total:    costs.Total,
		},
		ShippingOptions: options,
	}, nil
}
