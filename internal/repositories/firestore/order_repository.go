package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/deckforge/api/internal/domain"
	pfirestore "github.com/deckforge/api/internal/platform/firestore"
	"github.com/deckforge/api/internal/platform/pagination"
	"github.com/deckforge/api/internal/repositories"
)

const (
	ordersCollection            = "orders"
	orderTransactionsCollection = "orderTransactions"
	defaultOrderPageSize        = 20
	maxOrderPageSize            = 100
)

// OrderRepository implements repositories.OrderRepository on Firestore. Transaction ids are
// reserved in a side collection inside the same transaction as the order insert.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) client(ctx context.Context) (*firestore.Client, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	return r.provider.Client(ctx)
}

// Insert persists a new order and reserves its transaction id.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}
	orderRef := client.Collection(r.provider.CollectionName(ordersCollection)).Doc(orderDocID(order.ID))
	txRef := client.Collection(r.provider.CollectionName(orderTransactionsCollection)).Doc(transactionDocID(order.TransactionID))

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(txRef)
		switch status.Code(err) {
		case codes.OK:
			return pfirestore.NewConflict("orders.insert", fmt.Sprintf("transaction %s already attached to an order", order.TransactionID))
		case codes.NotFound:
		default:
			return err
		}
		if err := tx.Create(orderRef, encodeOrder(order)); err != nil {
			return err
		}
		return tx.Create(txRef, orderTransactionDocument{
			TransactionID: order.TransactionID,
			OrderID:       order.ID,
			CreatedAt:     order.CreatedAt.UTC(),
		})
	})
	return pfirestore.WrapError("orders.insert", err)
}

// FindByID loads the order with the given identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := client.Collection(r.provider.CollectionName(ordersCollection)).Doc(orderDocID(orderID)).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrderSnapshot(snap)
}

// List returns orders newest first. An empty UserID lists every order.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	size := filter.Pagination.PageSize
	switch {
	case size <= 0:
		size = defaultOrderPageSize
	case size > maxOrderPageSize:
		size = maxOrderPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken, filter.PageScope())
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := client.Collection(r.provider.CollectionName(ordersCollection)).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("orderStatus", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy("orderId", firestore.Desc)
	if cursor.ID != "" {
		query = query.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}

	iter := query.Limit(size + 1).Documents(ctx)
	defer iter.Stop()

	items := make([]domain.Order, 0, size)
	hasMore := false
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if len(items) == size {
			hasMore = true
			break
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		items = append(items, order)
	}

	page := domain.CursorPage[domain.Order]{Items: items}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Scope: filter.PageScope()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// ApplyStatusChange appends the status event when the stored order still matches the expected
// status and tracking number.
func (r *OrderRepository) ApplyStatusChange(ctx context.Context, change repositories.OrderStatusChange) (domain.Order, error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	ref := client.Collection(r.provider.CollectionName(ordersCollection)).Doc(orderDocID(change.OrderID))

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrderSnapshot(snap)
		if err != nil {
			return err
		}
		if err := repositories.CheckStatusChange(current, change); err != nil {
			return pfirestore.NewConflict("orders.status", err.Error())
		}

		if change.ClaimToken != "" {
			current.ShipmentClaim = domain.ShipmentClaim{}
		}
		current.Status = change.Status
		current.StatusHistory = append(current.StatusHistory, change.Event)
		if change.TrackingNumber != "" {
			current.DHLTrackingNumber = change.TrackingNumber
		}
		if change.ShippingLabelPath != "" {
			current.ShippingLabelPath = change.ShippingLabelPath
		}
		current.UpdatedAt = change.UpdatedAt
		updated = current
		return tx.Set(ref, encodeOrder(current))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.status", err)
	}
	return updated, nil
}

// ClaimShipment stores a shipment claim when no live claim or tracking number exists.
func (r *OrderRepository) ClaimShipment(ctx context.Context, req repositories.ShipmentClaimRequest) (domain.Order, error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	ref := client.Collection(r.provider.CollectionName(ordersCollection)).Doc(orderDocID(req.OrderID))

	var claimed domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrderSnapshot(snap)
		if err != nil {
			return err
		}
		if err := repositories.CheckShipmentClaim(current, req); err != nil {
			return pfirestore.NewConflict("orders.claim", err.Error())
		}
		current.ShipmentClaim = domain.ShipmentClaim{Token: req.Token, ExpiresAt: req.ExpiresAt}
		claimed = current
		return tx.Update(ref, []firestore.Update{
			{Path: "shipmentClaim", Value: encodeClaim(current.ShipmentClaim)},
		})
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.claim", err)
	}
	return claimed, nil
}

// ReleaseShipment deletes the shipment claim if token still holds it.
func (r *OrderRepository) ReleaseShipment(ctx context.Context, orderID, token string) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(r.provider.CollectionName(ordersCollection)).Doc(orderDocID(orderID))

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrderSnapshot(snap)
		if err != nil {
			return err
		}
		if current.ShipmentClaim.Token != token {
			return nil
		}
		return tx.Update(ref, []firestore.Update{{Path: "shipmentClaim", Value: firestore.Delete}})
	})
	return pfirestore.WrapError("orders.release", err)
}

// SetPrintable records the printable PDF location.
func (r *OrderRepository) SetPrintable(ctx context.Context, orderID, url string, updatedAt time.Time) (domain.Order, error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	ref := client.Collection(r.provider.CollectionName(ordersCollection)).Doc(orderDocID(orderID))

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrderSnapshot(snap)
		if err != nil {
			return err
		}
		current.PrintablePDFURL = url
		current.UpdatedAt = updatedAt
		updated = current
		return tx.Update(ref, []firestore.Update{
			{Path: "printablePdfUrl", Value: url},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		})
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.printable", err)
	}
	return updated, nil
}

// orderDocID drops characters Firestore path segments reject or that read badly in the console.
func orderDocID(orderID string) string {
	return strings.TrimPrefix(strings.TrimSpace(orderID), "#")
}

func transactionDocID(transactionID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(transactionID)))
	return hex.EncodeToString(sum[:])
}

type orderTransactionDocument struct {
	TransactionID string    `firestore:"transactionId"`
	OrderID       string    `firestore:"orderId"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderID           string                `firestore:"orderId"`
	UserID            string                `firestore:"userId"`
	Items             []orderItemDocument   `firestore:"items"`
	ShippingDetails   shippingDocument      `firestore:"shippingDetails"`
	Costs             orderCostsDocument    `firestore:"costs"`
	PaymentMethod     string                `firestore:"paymentMethod"`
	TransactionID     string                `firestore:"transactionId"`
	Status            string                `firestore:"orderStatus"`
	StatusHistory     []statusEventDocument `firestore:"statusHistory"`
	DHLTrackingNumber string                `firestore:"dhlTrackingNumber"`
	ShippingLabelPath string                `firestore:"shippingLabelPath"`
	PrintablePDFURL   string                `firestore:"printablePdfUrl"`
	ShipmentClaim     *claimDocument        `firestore:"shipmentClaim,omitempty"`
	CreatedAt         time.Time             `firestore:"createdAt"`
	UpdatedAt         time.Time             `firestore:"updatedAt"`
}

type orderItemDocument struct {
	BoxID          string `firestore:"boxId"`
	DeckQuantity   int    `firestore:"deckQuantity"`
	CardsPerDeck   int    `firestore:"cardsPerDeck"`
	MaterialFinish string `firestore:"materialFinish"`
	CardStock      string `firestore:"cardStock"`
	BoxType        string `firestore:"boxType"`
}

type shippingDocument struct {
	FullName     string `firestore:"fullName"`
	Email        string `firestore:"email"`
	Phone        string `firestore:"phone"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state,omitempty"`
	PostalCode   string `firestore:"postalCode"`
	CountryCode  string `firestore:"countryCode"`
}

// Money is stored as decimal strings to avoid float drift.
type orderCostsDocument struct {
	CardsSubtotal string `firestore:"cardsSubtotal"`
	BoxesSubtotal string `firestore:"boxesSubtotal"`
	Shipping      string `firestore:"shipping"`
	Tax           string `firestore:"tax"`
	Total         string `firestore:"total"`
}

type claimDocument struct {
	Token     string    `firestore:"token"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

func encodeClaim(claim domain.ShipmentClaim) *claimDocument {
	if claim.Token == "" {
		return nil
	}
	return &claimDocument{Token: claim.Token, ExpiresAt: claim.ExpiresAt.UTC()}
}

type statusEventDocument struct {
	Status string    `firestore:"status"`
	Date   time.Time `firestore:"date"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Items:         make([]orderItemDocument, 0, len(order.Items)),
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.TransactionID,
		Status:        string(order.Status),
		StatusHistory: make([]statusEventDocument, 0, len(order.StatusHistory)),
		ShippingDetails: shippingDocument{
			FullName:     order.ShippingDetails.FullName,
			Email:        order.ShippingDetails.Email,
			Phone:        order.ShippingDetails.Phone,
			AddressLine1: order.ShippingDetails.AddressLine1,
			AddressLine2: order.ShippingDetails.AddressLine2,
			City:         order.ShippingDetails.City,
			State:        order.ShippingDetails.State,
			PostalCode:   order.ShippingDetails.PostalCode,
			CountryCode:  order.ShippingDetails.CountryCode,
		},
		Costs: orderCostsDocument{
			CardsSubtotal: order.Costs.CardsSubtotal.String(),
			BoxesSubtotal: order.Costs.BoxesSubtotal.String(),
			Shipping:      order.Costs.Shipping.String(),
			Tax:           order.Costs.Tax.String(),
			Total:         order.Costs.Total.String(),
		},
		DHLTrackingNumber: order.DHLTrackingNumber,
		ShippingLabelPath: order.ShippingLabelPath,
		PrintablePDFURL:   order.PrintablePDFURL,
		ShipmentClaim:     encodeClaim(order.ShipmentClaim),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, event := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusEventDocument{Status: string(event.Status), Date: event.Date.UTC()})
	}
	return doc
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	return decodeOrder(doc)
}

func decodeOrder(doc orderDocument) (domain.Order, error) {
	costs, err := decodeCosts(doc.Costs)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders.decode %s: %w", doc.OrderID, err)
	}
	order := domain.Order{
		ID:                doc.OrderID,
		UserID:            doc.UserID,
		Items:             make([]domain.OrderItem, 0, len(doc.Items)),
		ShippingDetails:   domain.ShippingDetails(doc.ShippingDetails),
		Costs:             costs,
		PaymentMethod:     doc.PaymentMethod,
		TransactionID:     doc.TransactionID,
		Status:            domain.OrderStatus(doc.Status),
		StatusHistory:     make([]domain.OrderStatusEvent, 0, len(doc.StatusHistory)),
		DHLTrackingNumber: doc.DHLTrackingNumber,
		ShippingLabelPath: doc.ShippingLabelPath,
		PrintablePDFURL:   doc.PrintablePDFURL,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}
	if doc.ShipmentClaim != nil {
		order.ShipmentClaim = domain.ShipmentClaim{Token: doc.ShipmentClaim.Token, ExpiresAt: doc.ShipmentClaim.ExpiresAt.UTC()}
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, event := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusEvent{Status: domain.OrderStatus(event.Status), Date: event.Date.UTC()})
	}
	return order, nil
}

func decodeCosts(doc orderCostsDocument) (domain.OrderCosts, error) {
	fields := []string{doc.CardsSubtotal, doc.BoxesSubtotal, doc.Shipping, doc.Tax, doc.Total}
	values := make([]decimal.Decimal, len(fields))
	for i, raw := range fields {
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.OrderCosts{}, fmt.Errorf("decode cost %q: %w", raw, err)
		}
		values[i] = value
	}
	return domain.OrderCosts{
		CardsSubtotal: values[0],
		BoxesSubtotal: values[1],
		Shipping:      values[2],
		Tax:           values[3],
		Total:         values[4],
	}, nil
}
