package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/platform/storage"
	"github.com/deckforge/api/internal/shipping"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	ShippingDetails    = domain.ShippingDetails
	Quote              = domain.Quote
	UnitPrice          = domain.UnitPrice
	SystemHealthReport = domain.SystemHealthReport
)

// PricingEngine resolves unit prices from the active price table.
type PricingEngine interface {
	CalculatePrice(ctx context.Context, cardType string, deckQuantity, cardsPerDeck int) (UnitPrice, error)
	// Refresh drops the cached table and reloads it, returning the loaded version.
	Refresh(ctx context.Context) (string, error)
}

// QuoteService combines pricing and carrier rates into an advisory quote.
type QuoteService interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// CounterService allocates sequential human-readable identifiers.
type CounterService interface {
	NextOrderID(ctx context.Context) (string, error)
}

// OrderService covers order creation, owner reads and the admin lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error)
	AttachPrintable(ctx context.Context, cmd AttachPrintableCommand) (Order, error)
	ShippingLabelURL(ctx context.Context, orderID string) (SignedURL, error)
}

// SystemService aggregates utility endpoints such as readiness reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CarrierClient is the subset of the carrier API used by quotes and shipments.
type CarrierClient interface {
	GetRates(ctx context.Context, destination domain.ShippingDetails, pkg domain.PackageDetails) ([]domain.ShippingOption, error)
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (domain.Shipment, error)
}

// PaymentVerifier confirms payment references with the owning gateway.
type PaymentVerifier interface {
	Supports(method string) bool
	Verify(ctx context.Context, method, reference string, expected decimal.Decimal) (bool, error)
}

// LabelStorage persists shipping labels and issues download links for them.
type LabelStorage interface {
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) error
	SignedDownloadURL(ctx context.Context, bucket, object string, expiresIn time.Duration, fileName string) (storage.SignedURLResult, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OrderMetrics receives business counters. *observability.Metrics satisfies it.
type OrderMetrics interface {
	OrderCreated()
	PaymentVerified(gateway, result string)
	ShipmentCreated(result string)
	StatusChanged(status string)
}

// Command and DTO definitions ------------------------------------------------

type QuoteRequest struct {
	CardType        string
	DeckQuantity    int
	CardsPerDeck    int
	ShippingDetails ShippingDetails
}

type CreateOrderCommand struct {
	UserID          string
	Items           []OrderItem
	ShippingDetails ShippingDetails
	PaymentMethod   string
	TransactionID   string
}

type OrderListFilter struct {
	UserID     string
	Status     []OrderStatus
	Pagination domain.Pagination
}

type UpdateStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

type AttachPrintableCommand struct {
	OrderID    string
	ObjectPath string
	ActorID    string
}

// SignedURL is a time-limited download link.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// Order event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventShipped       = "order.shipped"
)

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string             `json:"id"`
	Type           string             `json:"type"`
	OrderID        string             `json:"order_id"`
	UserID         string             `json:"user_id,omitempty"`
	Status         domain.OrderStatus `json:"status"`
	PreviousStatus domain.OrderStatus `json:"previous_status,omitempty"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	ActorID        string             `json:"actor_id,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
