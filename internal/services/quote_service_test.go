package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/shipping"
)

type stubCarrier struct {
	mu         sync.Mutex
	ratesFn    func(context.Context, domain.ShippingDetails, domain.PackageDetails) ([]domain.ShippingOption, error)
	shipmentFn func(context.Context, shipping.ShipmentRequest) (domain.Shipment, error)
	shipments  []shipping.ShipmentRequest
	lastPkg    domain.PackageDetails
}

func (s *stubCarrier) GetRates(ctx context.Context, destination domain.ShippingDetails, pkg domain.PackageDetails) ([]domain.ShippingOption, error) {
	s.mu.Lock()
	s.lastPkg = pkg
	s.mu.Unlock()
	if s.ratesFn != nil {
		return s.ratesFn(ctx, destination, pkg)
	}
	return []domain.ShippingOption{
		{ServiceName: "EXPRESS WORLDWIDE", Price: dec("42.00"), Currency: "USD"},
		{ServiceName: "ECONOMY SELECT", Price: dec("18.50"), Currency: "USD"},
	}, nil
}

func (s *stubCarrier) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (domain.Shipment, error) {
	s.mu.Lock()
	s.shipments = append(s.shipments, req)
	s.mu.Unlock()
	if s.shipmentFn != nil {
		return s.shipmentFn(ctx, req)
	}
	return domain.Shipment{TrackingNumber: "1234567890", LabelDocument: []byte("%PDF-1.4"), LabelFormat: "PDF"}, nil
}

func sampleShippingDetails() ShippingDetails {
	return ShippingDetails{
		FullName:     "Ada Lovelace",
		Email:        "ada@example.com",
		AddressLine1: "12 Analytical Row",
		City:         "London",
		PostalCode:   "n1 9gu",
		CountryCode:  "gb",
	}
}

func newTestQuoteService(t *testing.T, carrier *stubCarrier) QuoteService {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{Source: &stubPriceTableSource{}})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}
	svc, err := NewQuoteService(QuoteServiceDeps{
		Pricing: engine,
		Carrier: carrier,
		Package: PackageEstimator{CardWeightGrams: 2, BoxWeightGrams: 30},
		TaxRate: dec("0.10"),
	})
	if err != nil {
		t.Fatalf("new quote service: %v", err)
	}
	return svc
}

func TestQuoteServiceComputesSummaryFromFirstOption(t *testing.T) {
	carrier := &stubCarrier{}
	svc := newTestQuoteService(t, carrier)

	quote, err := svc.Quote(context.Background(), QuoteRequest{
		CardType:        "standard",
		DeckQuantity:    2,
		CardsPerDeck:    54,
		ShippingDetails: sampleShippingDetails(),
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	// cards 0.30*2, boxes 4.50*2, shipping 42.00, tax (0.60+9.00+42.00)*0.10
	want := map[string][2]string{
		"cards":    {quote.Summary.Cards.String(), "0.6"},
		"boxes":    {quote.Summary.Boxes.String(), "9"},
		"shipping": {quote.Summary.Shipping.String(), "42"},
		"tax":      {quote.Summary.Tax.String(), "5.16"},
		"total":    {quote.Summary.Total.String(), "56.76"},
	}
	for name, pair := range want {
		if !dec(pair[0]).Equal(dec(pair[1])) {
			t.Errorf("%s = %s, want %s", name, pair[0], pair[1])
		}
	}
	if len(quote.ShippingOptions) != 2 || quote.ShippingOptions[0].ServiceName != "EXPRESS WORLDWIDE" {
		t.Fatalf("expected carrier order preserved, got %+v", quote.ShippingOptions)
	}
	if carrier.lastPkg.WeightKg <= 0 {
		t.Fatalf("expected package weight to be estimated, got %+v", carrier.lastPkg)
	}
}

func TestQuoteServiceTotalsSumExactly(t *testing.T) {
	svc := newTestQuoteService(t, &stubCarrier{ratesFn: func(context.Context, domain.ShippingDetails, domain.PackageDetails) ([]domain.ShippingOption, error) {
		return []domain.ShippingOption{{ServiceName: "X", Price: dec("13.37"), Currency: "USD"}}, nil
	}})
	quote, err := svc.Quote(context.Background(), QuoteRequest{CardType: "standard", DeckQuantity: 7, CardsPerDeck: 61, ShippingDetails: sampleShippingDetails()})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	s := quote.Summary
	if !s.Cards.Add(s.Boxes).Add(s.Shipping).Add(s.Tax).Equal(s.Total) {
		t.Fatalf("components do not sum to total: %+v", s)
	}
}

func TestQuoteServiceValidation(t *testing.T) {
	svc := newTestQuoteService(t, &stubCarrier{})
	badCountry := sampleShippingDetails()
	badCountry.CountryCode = "XX1"

	cases := map[string]QuoteRequest{
		"missing card type": {DeckQuantity: 1, CardsPerDeck: 10, ShippingDetails: sampleShippingDetails()},
		"zero decks":        {CardType: "standard", CardsPerDeck: 10, ShippingDetails: sampleShippingDetails()},
		"missing address":   {CardType: "standard", DeckQuantity: 1, CardsPerDeck: 10},
		"invalid country":   {CardType: "standard", DeckQuantity: 1, CardsPerDeck: 10, ShippingDetails: badCountry},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Quote(context.Background(), req); !errors.Is(err, ErrQuoteInvalidInput) {
				t.Fatalf("expected ErrQuoteInvalidInput, got %v", err)
			}
		})
	}
}

func TestQuoteServicePropagatesCollaboratorErrors(t *testing.T) {
	noRates := newTestQuoteService(t, &stubCarrier{ratesFn: func(context.Context, domain.ShippingDetails, domain.PackageDetails) ([]domain.ShippingOption, error) {
		return nil, nil
	}})
	req := QuoteRequest{CardType: "standard", DeckQuantity: 1, CardsPerDeck: 10, ShippingDetails: sampleShippingDetails()}
	if _, err := noRates.Quote(context.Background(), req); !errors.Is(err, shipping.ErrNoRatesAvailable) {
		t.Fatalf("expected ErrNoRatesAvailable, got %v", err)
	}

	down := newTestQuoteService(t, &stubCarrier{ratesFn: func(context.Context, domain.ShippingDetails, domain.PackageDetails) ([]domain.ShippingOption, error) {
		return nil, &shipping.CarrierError{Operation: "rates", Status: 503}
	}})
	if _, err := down.Quote(context.Background(), req); !errors.Is(err, shipping.ErrCarrierUnavailable) {
		t.Fatalf("expected ErrCarrierUnavailable, got %v", err)
	}

	unknown := req
	unknown.CardType = "holo"
	svc := newTestQuoteService(t, &stubCarrier{})
	if _, err := svc.Quote(context.Background(), unknown); !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected ErrPriceNotFound, got %v", err)
	}
}

func TestQuoteServiceCancelsRatesWhenPricingFails(t *testing.T) {
	carrier := &stubCarrier{ratesFn: func(ctx context.Context, _ domain.ShippingDetails, _ domain.PackageDetails) ([]domain.ShippingOption, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, errors.New("rates call was not cancelled")
		}
	}}
	svc := newTestQuoteService(t, carrier)
	_, err := svc.Quote(context.Background(), QuoteRequest{CardType: "holo", DeckQuantity: 1, CardsPerDeck: 10, ShippingDetails: sampleShippingDetails()})
	if !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected pricing error to win, got %v", err)
	}
}

func TestPackageEstimator(t *testing.T) {
	pkg := PackageEstimator{CardWeightGrams: 2, BoxWeightGrams: 30}.Estimate(10, 54)
	// 10 * (54*2 + 30) = 1380g, rounded up to 1.4kg
	if pkg.WeightKg != 1.4 {
		t.Fatalf("expected 1.4kg, got %v", pkg.WeightKg)
	}
	if pkg.HeightCm != 25 || pkg.LengthCm != 20 || pkg.WidthCm != 15 {
		t.Fatalf("unexpected dimensions %+v", pkg)
	}
	small := PackageEstimator{}.Estimate(1, 1)
	if small.WeightKg != 0.1 || small.HeightCm != 5 {
		t.Fatalf("expected minimum parcel, got %+v", small)
	}
}
