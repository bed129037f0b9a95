package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/repositories"
)

var (
	// ErrPriceNotFound indicates the price table has no rule for the card type.
	ErrPriceNotFound = errors.New("pricing: card type not found")
	// ErrPriceTierNotFound indicates no deck tier covers the requested deck quantity.
	ErrPriceTierNotFound = errors.New("pricing: deck tier not found")
	// ErrCardPriceNotFound indicates no card range covers the requested cards per deck.
	ErrCardPriceNotFound = errors.New("pricing: card price not found")
	// ErrPricingMisconfigured signals a malformed price table.
	ErrPricingMisconfigured = errors.New("pricing: price table misconfigured")
	// ErrPricingInvalidInput signals non-positive quantities or an empty card type.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

const defaultPriceTableTTL = 5 * time.Minute

// PricingEngineDeps bundles collaborators required to construct the pricing engine.
type PricingEngineDeps struct {
	Source   repositories.PriceTableRepository
	CacheTTL time.Duration
	Now      func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type pricingEngine struct {
	source repositories.PriceTableRepository
	ttl    time.Duration
	now    func() time.Time
	logger func(context.Context, string, map[string]any)

	mu       sync.Mutex
	table    domain.PriceTable
	loadedAt time.Time
	loaded   bool
}

var _ PricingEngine = (*pricingEngine)(nil)

// NewPricingEngine constructs a pricing engine that caches the price table for CacheTTL.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Source == nil {
		return nil, errors.New("pricing engine: price table source is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultPriceTableTTL
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingEngine{
		source: deps.Source,
		ttl:    ttl,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

func (e *pricingEngine) CalculatePrice(ctx context.Context, cardType string, deckQuantity, cardsPerDeck int) (UnitPrice, error) {
	cardType = strings.TrimSpace(cardType)
	if cardType == "" {
		return UnitPrice{}, fmt.Errorf("%w: card type is required", ErrPricingInvalidInput)
	}
	if deckQuantity <= 0 || cardsPerDeck <= 0 {
		return UnitPrice{}, fmt.Errorf("%w: deck quantity and cards per deck must be positive", ErrPricingInvalidInput)
	}

	table, err := e.currentTable(ctx)
	if err != nil {
		return UnitPrice{}, err
	}
	return resolveUnitPrice(table, cardType, deckQuantity, cardsPerDeck)
}

func (e *pricingEngine) Refresh(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(ctx); err != nil {
		return "", err
	}
	e.logger(ctx, "pricing.table.refreshed", map[string]any{
		"version": e.table.Version,
		"rules":   len(e.table.Rules),
	})
	return e.table.Version, nil
}

func (e *pricingEngine) currentTable(ctx context.Context) (domain.PriceTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && e.now().Sub(e.loadedAt) < e.ttl {
		return e.table, nil
	}
	if err := e.loadLocked(ctx); err != nil {
		if e.loaded {
			// Serve the stale table rather than failing quotes while the source is down.
			e.logger(ctx, "pricing.table.reload.failed", map[string]any{
				"error":   err.Error(),
				"version": e.table.Version,
			})
			return e.table, nil
		}
		return domain.PriceTable{}, err
	}
	return e.table, nil
}

func (e *pricingEngine) loadLocked(ctx context.Context) error {
	table, err := e.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("pricing: load price table: %w", err)
	}
	e.table = table
	e.loadedAt = e.now()
	e.loaded = true
	return nil
}

func resolveUnitPrice(table domain.PriceTable, cardType string, deckQuantity, cardsPerDeck int) (UnitPrice, error) {
	rule, ok := table.Rule(cardType)
	if !ok {
		return UnitPrice{}, fmt.Errorf("%w: %q", ErrPriceNotFound, cardType)
	}

	var (
		tier  domain.DeckTier
		found bool
	)
	for _, candidate := range rule.Pricing {
		r, err := parseRange(candidate.DeckRange)
		if err != nil {
			return UnitPrice{}, fmt.Errorf("%w: card type %q: %v", ErrPricingMisconfigured, cardType, err)
		}
		if r.contains(deckQuantity) {
			tier = candidate
			found = true
			break
		}
	}
	if !found {
		return UnitPrice{}, fmt.Errorf("%w: %d decks of %q", ErrPriceTierNotFound, deckQuantity, cardType)
	}

	for _, entry := range tier.CardPriceByRange {
		r, err := parseRange(entry.Range)
		if err != nil {
			return UnitPrice{}, fmt.Errorf("%w: card type %q tier %q: %v", ErrPricingMisconfigured, cardType, tier.DeckRange, err)
		}
		if r.open {
			return UnitPrice{}, fmt.Errorf("%w: card type %q tier %q: card range %q must be bounded", ErrPricingMisconfigured, cardType, tier.DeckRange, entry.Range)
		}
		if r.contains(cardsPerDeck) {
			return UnitPrice{CardPrice: entry.Price, BoxPrice: tier.BoxPrice}, nil
		}
	}
	return UnitPrice{}, fmt.Errorf("%w: %d cards per deck", ErrCardPriceNotFound, cardsPerDeck)
}

// quantityRange is a parsed "min-max" or "min+" bracket. Both ends are inclusive.
type quantityRange struct {
	min  int
	max  int
	open bool
}

func (r quantityRange) contains(n int) bool {
	if r.open {
		return n >= r.min
	}
	return n >= r.min && n <= r.max
}

func parseRange(raw string) (quantityRange, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return quantityRange{}, errors.New("empty range")
	}
	if head, ok := strings.CutSuffix(value, "+"); ok {
		lo, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil || lo < 0 {
			return quantityRange{}, fmt.Errorf("invalid range %q", raw)
		}
		return quantityRange{min: lo, open: true}, nil
	}
	head, tail, ok := strings.Cut(value, "-")
	if !ok {
		return quantityRange{}, fmt.Errorf("invalid range %q", raw)
	}
	lo, errLo := strconv.Atoi(strings.TrimSpace(head))
	hi, errHi := strconv.Atoi(strings.TrimSpace(tail))
	if errLo != nil || errHi != nil || lo < 0 || hi < lo {
		return quantityRange{}, fmt.Errorf("invalid range %q", raw)
	}
	return quantityRange{min: lo, max: hi}, nil
}
