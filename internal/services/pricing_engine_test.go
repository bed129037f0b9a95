package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
)

type stubPriceTableSource struct {
	loadFn func(context.Context) (domain.PriceTable, error)
	calls  int
}

func (s *stubPriceTableSource) Load(ctx context.Context) (domain.PriceTable, error) {
	s.calls++
	if s.loadFn != nil {
		return s.loadFn(ctx)
	}
	return samplePriceTable(), nil
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func samplePriceTable() domain.PriceTable {
	return domain.PriceTable{
		Version: "v1",
		Rules: []domain.CardTypeRule{
			{
				CardType: "standard",
				Pricing: []domain.DeckTier{
					{
						DeckRange: "1-9",
						CardPriceByRange: []domain.CardPriceRange{
							{Range: "1-54", Price: dec("0.30")},
							{Range: "55-120", Price: dec("0.25")},
						},
						BoxPrice: dec("4.50"),
					},
					{
						DeckRange: "10+",
						CardPriceByRange: []domain.CardPriceRange{
							{Range: "1-54", Price: dec("0.20")},
							{Range: "55-120", Price: dec("0.18")},
						},
						BoxPrice: dec("3.00"),
					},
				},
			},
		},
	}
}

func TestPricingEngineCalculatePrice(t *testing.T) {
	engine, err := NewPricingEngine(PricingEngineDeps{Source: &stubPriceTableSource{}})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}

	cases := []struct {
		name      string
		decks     int
		cards     int
		wantCard  string
		wantBox   string
		wantError error
	}{
		{name: "lower bound inclusive", decks: 1, cards: 1, wantCard: "0.30", wantBox: "4.50"},
		{name: "upper bound inclusive", decks: 9, cards: 54, wantCard: "0.30", wantBox: "4.50"},
		{name: "second card range", decks: 5, cards: 55, wantCard: "0.25", wantBox: "4.50"},
		{name: "open tier", decks: 10, cards: 60, wantCard: "0.18", wantBox: "3.00"},
		{name: "open tier large", decks: 5000, cards: 1, wantCard: "0.20", wantBox: "3.00"},
		{name: "cards out of range", decks: 3, cards: 121, wantError: ErrCardPriceNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, err := engine.CalculatePrice(context.Background(), "standard", tc.decks, tc.cards)
			if tc.wantError != nil {
				if !errors.Is(err, tc.wantError) {
					t.Fatalf("expected %v, got %v", tc.wantError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("calculate price: %v", err)
			}
			if !price.CardPrice.Equal(dec(tc.wantCard)) || !price.BoxPrice.Equal(dec(tc.wantBox)) {
				t.Fatalf("unexpected price %s/%s", price.CardPrice, price.BoxPrice)
			}
		})
	}
}

func pokerPriceTable() domain.PriceTable {
	cardRanges := func(small, large string) []domain.CardPriceRange {
		return []domain.CardPriceRange{
			{Range: "1-50", Price: dec(small)},
			{Range: "51-75", Price: dec(large)},
		}
	}
	return domain.PriceTable{
		Version: "poker",
		Rules: []domain.CardTypeRule{{
			CardType: "Standard 300gsm Poker",
			Pricing: []domain.DeckTier{
				{DeckRange: "1-19", CardPriceByRange: cardRanges("3.10", "4.00"), BoxPrice: dec("2.50")},
				{DeckRange: "20-50", CardPriceByRange: cardRanges("2.60", "3.20"), BoxPrice: dec("1.75")},
				{DeckRange: "51-2499", CardPriceByRange: cardRanges("2.10", "2.80"), BoxPrice: dec("1.20")},
				{DeckRange: "2500+", CardPriceByRange: cardRanges("1.40", "1.90"), BoxPrice: dec("0.80")},
			},
		}},
	}
}

func TestPricingEngineTierBoundaries(t *testing.T) {
	source := &stubPriceTableSource{loadFn: func(context.Context) (domain.PriceTable, error) {
		return pokerPriceTable(), nil
	}}
	engine, err := NewPricingEngine(PricingEngineDeps{Source: source})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}

	cases := map[string]struct {
		decks   int
		wantBox string
	}{
		"below 20-50":       {decks: 19, wantBox: "2.50"},
		"20-50 lower bound": {decks: 20, wantBox: "1.75"},
		"20-50 upper bound": {decks: 50, wantBox: "1.75"},
		"above 20-50":       {decks: 51, wantBox: "1.20"},
		"below 2500+":       {decks: 2499, wantBox: "1.20"},
		"2500+ lower bound": {decks: 2500, wantBox: "0.80"},
		"2500+ far above":   {decks: 1_000_000, wantBox: "0.80"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			price, err := engine.CalculatePrice(context.Background(), "Standard 300gsm Poker", tc.decks, 60)
			if err != nil {
				t.Fatalf("calculate price: %v", err)
			}
			if !price.BoxPrice.Equal(dec(tc.wantBox)) {
				t.Fatalf("%d decks matched box price %s, want %s", tc.decks, price.BoxPrice, tc.wantBox)
			}
		})
	}
}

func TestPricingEnginePokerOrderCosts(t *testing.T) {
	source := &stubPriceTableSource{loadFn: func(context.Context) (domain.PriceTable, error) {
		return pokerPriceTable(), nil
	}}
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: source})

	unit, err := engine.CalculatePrice(context.Background(), "Standard 300gsm Poker", 40, 60)
	if err != nil {
		t.Fatalf("calculate price: %v", err)
	}
	if !unit.CardPrice.Equal(dec("3.20")) || !unit.BoxPrice.Equal(dec("1.75")) {
		t.Fatalf("expected tier 20-50 and cards 51-75, got %s/%s", unit.CardPrice, unit.BoxPrice)
	}

	costs := computeCosts(unit, 40, dec("35.00"), defaultTaxRate)
	want := map[string]struct{ got, want decimal.Decimal }{
		"cards":    {costs.CardsSubtotal, dec("128.00")},
		"boxes":    {costs.BoxesSubtotal, dec("70.00")},
		"shipping": {costs.Shipping, dec("35.00")},
		"tax":      {costs.Tax, dec("23.30")},
		"total":    {costs.Total, dec("256.30")},
	}
	for name, v := range want {
		if !v.got.Equal(v.want) {
			t.Errorf("%s = %s, want %s", name, v.got, v.want)
		}
	}
	sum := costs.CardsSubtotal.Add(costs.BoxesSubtotal).Add(costs.Shipping).Add(costs.Tax)
	if !sum.Equal(costs.Total) {
		t.Fatalf("components sum to %s, total is %s", sum, costs.Total)
	}
}

func TestPricingEngineUnknownCardType(t *testing.T) {
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: &stubPriceTableSource{}})
	_, err := engine.CalculatePrice(context.Background(), "foil", 1, 10)
	if !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected ErrPriceNotFound, got %v", err)
	}
}

func TestPricingEngineNoMatchingTier(t *testing.T) {
	table := samplePriceTable()
	table.Rules[0].Pricing = table.Rules[0].Pricing[:1]
	source := &stubPriceTableSource{loadFn: func(context.Context) (domain.PriceTable, error) { return table, nil }}
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: source})

	_, err := engine.CalculatePrice(context.Background(), "standard", 10, 10)
	if !errors.Is(err, ErrPriceTierNotFound) {
		t.Fatalf("expected ErrPriceTierNotFound, got %v", err)
	}
}

func TestPricingEngineMalformedRangeIsConfigurationError(t *testing.T) {
	table := samplePriceTable()
	table.Rules[0].Pricing[0].DeckRange = "one-nine"
	source := &stubPriceTableSource{loadFn: func(context.Context) (domain.PriceTable, error) { return table, nil }}
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: source})

	_, err := engine.CalculatePrice(context.Background(), "standard", 10, 10)
	if !errors.Is(err, ErrPricingMisconfigured) {
		t.Fatalf("expected ErrPricingMisconfigured, got %v", err)
	}
}

func TestPricingEngineRejectsInvalidInput(t *testing.T) {
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: &stubPriceTableSource{}})
	if _, err := engine.CalculatePrice(context.Background(), "standard", 0, 10); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected invalid input for zero decks, got %v", err)
	}
	if _, err := engine.CalculatePrice(context.Background(), " ", 1, 10); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected invalid input for blank card type, got %v", err)
	}
}

func TestPricingEngineCachesUntilTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &stubPriceTableSource{}
	engine, _ := NewPricingEngine(PricingEngineDeps{
		Source:   source,
		CacheTTL: time.Minute,
		Now:      func() time.Time { return now },
	})

	ctx := context.Background()
	for range 3 {
		if _, err := engine.CalculatePrice(ctx, "standard", 1, 10); err != nil {
			t.Fatalf("calculate price: %v", err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected a single load, got %d", source.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := engine.CalculatePrice(ctx, "standard", 1, 10); err != nil {
		t.Fatalf("calculate price: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", source.calls)
	}
}

func TestPricingEngineServesStaleTableWhenReloadFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fail := false
	source := &stubPriceTableSource{loadFn: func(context.Context) (domain.PriceTable, error) {
		if fail {
			return domain.PriceTable{}, errors.New("firestore down")
		}
		return samplePriceTable(), nil
	}}
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: source, CacheTTL: time.Minute, Now: func() time.Time { return now }})

	ctx := context.Background()
	if _, err := engine.CalculatePrice(ctx, "standard", 1, 10); err != nil {
		t.Fatalf("calculate price: %v", err)
	}
	fail = true
	now = now.Add(time.Hour)
	if _, err := engine.CalculatePrice(ctx, "standard", 1, 10); err != nil {
		t.Fatalf("expected stale table to be served, got %v", err)
	}
}

func TestPricingEngineRefreshReloads(t *testing.T) {
	version := "v1"
	source := &stubPriceTableSource{loadFn: func(context.Context) (domain.PriceTable, error) {
		table := samplePriceTable()
		table.Version = version
		return table, nil
	}}
	engine, _ := NewPricingEngine(PricingEngineDeps{Source: source, CacheTTL: time.Hour})

	ctx := context.Background()
	if _, err := engine.CalculatePrice(ctx, "standard", 1, 10); err != nil {
		t.Fatalf("calculate price: %v", err)
	}
	version = "v2"
	got, err := engine.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got != "v2" || source.calls != 2 {
		t.Fatalf("expected refresh to load v2, got %q after %d loads", got, source.calls)
	}
}

func TestParseRange(t *testing.T) {
	valid := map[string]quantityRange{
		"1-9":     {min: 1, max: 9},
		" 10+ ":   {min: 10, open: true},
		"55 - 60": {min: 55, max: 60},
	}
	for raw, want := range valid {
		got, err := parseRange(raw)
		if err != nil || got != want {
			t.Errorf("parseRange(%q) = %+v, %v", raw, got, err)
		}
	}
	for _, raw := range []string{"", "9-1", "abc", "+", "1-", "-5"} {
		if _, err := parseRange(raw); err == nil {
			t.Errorf("parseRange(%q) expected error", raw)
		}
	}
}
