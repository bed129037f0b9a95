package repositories

import (
	"context"
	"fmt"
	"time"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/platform/pagination"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Counters() CounterRepository
	PriceTables() PriceTableRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders. Implementations must reject an Insert whose TransactionID
// is already attached to another order with a RepositoryError reporting IsConflict.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ApplyStatusChange atomically appends the status event. It returns a conflict when the stored
	// status or tracking number no longer match the expectations carried by the change, or when a
	// shipment claim held by another token is still live. A matching claim is cleared.
	ApplyStatusChange(ctx context.Context, change OrderStatusChange) (domain.Order, error)
	// ClaimShipment reserves the carrier booking for one caller. It returns a conflict when the
	// order left the expected status, already has a tracking number, or holds a live claim.
	ClaimShipment(ctx context.Context, claim ShipmentClaimRequest) (domain.Order, error)
	// ReleaseShipment drops the claim identified by token. Claims held by other tokens are kept.
	ReleaseShipment(ctx context.Context, orderID, token string) error
	SetPrintable(ctx context.Context, orderID, url string, updatedAt time.Time) (domain.Order, error)
}

// CounterRepository provides atomic increment-and-fetch sequences.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// PriceTableRepository loads the active card price table.
type PriceTableRepository interface {
	Load(ctx context.Context) (domain.PriceTable, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings to one owner.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// PageScope fingerprints the filter so page tokens cannot be replayed against another filter.
func (f OrderListFilter) PageScope() string {
	parts := make([]string, 0, len(f.Status)+1)
	if f.UserID != "" {
		parts = append(parts, "user:"+f.UserID)
	}
	for _, status := range f.Status {
		parts = append(parts, "status:"+string(status))
	}
	return pagination.Scope(parts...)
}

// OrderStatusChange describes a single lifecycle transition to persist.
type OrderStatusChange struct {
	OrderID                string
	ExpectedStatus         domain.OrderStatus
	ExpectedTrackingNumber string
	Status                 domain.OrderStatus
	Event                  domain.OrderStatusEvent
	TrackingNumber         string
	ShippingLabelPath      string

	// ClaimToken proves ownership of the shipment claim taken before booking the carrier.
	ClaimToken string
	UpdatedAt  time.Time
}

// ShipmentClaimRequest asks for the exclusive right to book an order's shipment until ExpiresAt.
type ShipmentClaimRequest struct {
	OrderID        string
	ExpectedStatus domain.OrderStatus
	Token          string
	Now            time.Time
	ExpiresAt      time.Time
}

// CheckShipmentClaim validates a claim request against the stored order.
func CheckShipmentClaim(order domain.Order, req ShipmentClaimRequest) error {
	switch {
	case order.Status != req.ExpectedStatus:
		return fmt.Errorf("order %s is %s, not %s", order.ID, order.Status, req.ExpectedStatus)
	case order.DHLTrackingNumber != "":
		return fmt.Errorf("order %s already has tracking number %s", order.ID, order.DHLTrackingNumber)
	case order.ShipmentClaim.HeldAt(req.Now):
		return fmt.Errorf("order %s shipment is already being booked", order.ID)
	}
	return nil
}

// CheckStatusChange validates a status change against the stored order.
func CheckStatusChange(order domain.Order, change OrderStatusChange) error {
	switch {
	case order.Status != change.ExpectedStatus || order.DHLTrackingNumber != change.ExpectedTrackingNumber:
		return fmt.Errorf("order %s changed concurrently", order.ID)
	case change.ClaimToken != "" && order.ShipmentClaim.Token != change.ClaimToken:
		return fmt.Errorf("order %s shipment claim was lost", order.ID)
	case change.ClaimToken == "" && order.ShipmentClaim.HeldAt(change.UpdatedAt):
		return fmt.Errorf("order %s shipment is being booked", order.ID)
	}
	return nil
}
