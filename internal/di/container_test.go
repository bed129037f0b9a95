package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/payments"
	"github.com/deckforge/api/internal/platform/config"
	"github.com/deckforge/api/internal/repositories/memory"
	"github.com/deckforge/api/internal/services"
	"github.com/deckforge/api/internal/shipping"
)

type stubCarrier struct{}

func (stubCarrier) GetRates(context.Context, domain.ShippingDetails, domain.PackageDetails) ([]domain.ShippingOption, error) {
	return []domain.ShippingOption{{ServiceName: "EXPRESS", Price: decimal.RequireFromString("20"), Currency: "USD"}}, nil
}

func (stubCarrier) CreateShipment(context.Context, shipping.ShipmentRequest) (domain.Shipment, error) {
	return domain.Shipment{TrackingNumber: "JD0001"}, nil
}

func testPriceTable() domain.PriceTable {
	return domain.PriceTable{
		Version: "test",
		Rules: []domain.CardTypeRule{{
			CardType: "standard",
			Pricing: []domain.DeckTier{{
				DeckRange:        "1+",
				CardPriceByRange: []domain.CardPriceRange{{Range: "1-200", Price: decimal.RequireFromString("0.10")}},
				BoxPrice:         decimal.RequireFromString("2"),
			}},
		}},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Integrations{}); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainerRequiresCarrier(t *testing.T) {
	reg, err := memory.NewRegistry(memory.NewPriceTableRepository(testPriceTable()))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, err := NewContainer(context.Background(), config.Config{}, reg, Integrations{}); err == nil {
		t.Fatalf("expected error without carrier")
	}
}

func TestNewContainerWiresOrderFlow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	reg, err := memory.NewRegistry(memory.NewPriceTableRepository(testPriceTable()))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	stripe, err := payments.NewStripeVerifier(payments.StripeVerifierConfig{Mode: payments.ModeBypassed})
	if err != nil {
		t.Fatalf("stripe verifier: %v", err)
	}
	manager, err := payments.NewManager(map[string]payments.Verifier{payments.MethodStripe: stripe})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	cfg := config.Config{
		Pricing: config.PricingConfig{
			TaxRate:      decimal.RequireFromString("0.10"),
			FlatShipping: decimal.RequireFromString("35"),
		},
		Security: config.SecurityConfig{Environment: "test"},
	}
	container, err := NewContainer(ctx, cfg, reg, Integrations{
		Carrier:  stubCarrier{},
		Payments: manager,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(ctx) })

	svc := container.Services
	if svc.Pricing == nil || svc.Quotes == nil || svc.Counters == nil || svc.Orders == nil || svc.System == nil {
		t.Fatalf("expected every service to be wired, got %+v", svc)
	}

	order, err := svc.Orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID: "user-1",
		Items: []services.OrderItem{{
			BoxID:          "box-1",
			DeckQuantity:   10,
			CardsPerDeck:   60,
			MaterialFinish: "matte",
			CardStock:      "standard",
			BoxType:        "tuck",
		}},
		ShippingDetails: services.ShippingDetails{
			FullName:     "Ada Lovelace",
			AddressLine1: "1 Analytical Way",
			City:         "London",
			PostalCode:   "N1 9GU",
			CountryCode:  "GB",
		},
		PaymentMethod: payments.MethodStripe,
		TransactionID: "pi_123",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !strings.HasPrefix(order.ID, "#ORD-2026-") {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if order.Status != domain.OrderStatusPendingApproval {
		t.Fatalf("expected pending approval, got %s", order.Status)
	}

	report, err := svc.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Environment != "test" {
		t.Fatalf("expected environment from config, got %q", report.Environment)
	}
}
