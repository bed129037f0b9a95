package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/platform/pagination"
	"github.com/deckforge/api/internal/repositories"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// OrderRepository keeps orders in process memory. Transaction ids are unique across orders.
type OrderRepository struct {
	mu           sync.RWMutex
	orders       map[string]domain.Order
	transactions map[string]string
}

// NewOrderRepository constructs an empty order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:       make(map[string]domain.Order),
		transactions: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txID := strings.TrimSpace(order.TransactionID)
	if existing, ok := r.transactions[txID]; ok {
		return conflict("orders.insert", "transaction %s already attached to order %s", txID, existing)
	}
	if _, ok := r.orders[order.ID]; ok {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	r.orders[order.ID] = cloneOrder(order)
	r.transactions[txID] = order.ID
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken, filter.PageScope())
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := filter.Pagination.PageSize
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}

	r.mu.RLock()
	matches := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		matches = append(matches, order)
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	start := 0
	if cursor.ID != "" {
		start = len(matches)
		for i, order := range matches {
			if order.CreatedAt.Before(cursor.CreatedAt) || (order.CreatedAt.Equal(cursor.CreatedAt) && order.ID < cursor.ID) {
				start = i
				break
			}
		}
	}

	end := min(start+size, len(matches))
	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, end-start)}
	for _, order := range matches[start:end] {
		page.Items = append(page.Items, cloneOrder(order))
	}
	if end < len(matches) && end > start {
		last := matches[end-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Scope: filter.PageScope()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *OrderRepository) ApplyStatusChange(_ context.Context, change repositories.OrderStatusChange) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[change.OrderID]
	if !ok {
		return domain.Order{}, notFound("orders.status", "order %s not found", change.OrderID)
	}
	if err := repositories.CheckStatusChange(order, change); err != nil {
		return domain.Order{}, conflict("orders.status", "%v", err)
	}
	order = cloneOrder(order)
	if change.ClaimToken != "" {
		order.ShipmentClaim = domain.ShipmentClaim{}
	}
	order.Status = change.Status
	order.StatusHistory = append(order.StatusHistory, change.Event)
	if change.TrackingNumber != "" {
		order.DHLTrackingNumber = change.TrackingNumber
	}
	if change.ShippingLabelPath != "" {
		order.ShippingLabelPath = change.ShippingLabelPath
	}
	order.UpdatedAt = change.UpdatedAt
	r.orders[order.ID] = order
	return cloneOrder(order), nil
}

func (r *OrderRepository) ClaimShipment(_ context.Context, req repositories.ShipmentClaimRequest) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[req.OrderID]
	if !ok {
		return domain.Order{}, notFound("orders.claim", "order %s not found", req.OrderID)
	}
	if err := repositories.CheckShipmentClaim(order, req); err != nil {
		return domain.Order{}, conflict("orders.claim", "%v", err)
	}
	order = cloneOrder(order)
	order.ShipmentClaim = domain.ShipmentClaim{Token: req.Token, ExpiresAt: req.ExpiresAt}
	r.orders[order.ID] = order
	return cloneOrder(order), nil
}

func (r *OrderRepository) ReleaseShipment(_ context.Context, orderID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return notFound("orders.release", "order %s not found", orderID)
	}
	if order.ShipmentClaim.Token == token {
		order.ShipmentClaim = domain.ShipmentClaim{}
		r.orders[orderID] = order
	}
	return nil
}

func (r *OrderRepository) SetPrintable(_ context.Context, orderID, url string, updatedAt time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.printable", "order %s not found", orderID)
	}
	order = cloneOrder(order)
	order.PrintablePDFURL = url
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return cloneOrder(order), nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.StatusHistory = slices.Clone(order.StatusHistory)
	return order
}
