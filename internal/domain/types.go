package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the fulfilment states an order moves through.
type OrderStatus string

const (
	// OrderStatusPendingApproval is the initial state of every paid order.
	OrderStatusPendingApproval OrderStatus = "PendingApproval"
	// OrderStatusProcessing indicates an administrator approved the order.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusRejected indicates an administrator refused the order. Terminal.
	OrderStatusRejected OrderStatus = "Rejected"
	// OrderStatusPrinting indicates the decks are at the printer.
	OrderStatusPrinting OrderStatus = "Printing"
	// OrderStatusShipped indicates the carrier shipment exists and carries a tracking number.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCompleted closes the order. Terminal.
	OrderStatusCompleted OrderStatus = "Completed"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPendingApproval,
	OrderStatusProcessing,
	OrderStatusRejected,
	OrderStatusPrinting,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCompleted,
}

// Order is the persisted, authoritative purchase record.
type Order struct {
	ID                string
	UserID            string
	Items             []OrderItem
	ShippingDetails   ShippingDetails
	Costs             OrderCosts
	PaymentMethod     string
	TransactionID     string
	Status            OrderStatus
	StatusHistory     []OrderStatusEvent
	DHLTrackingNumber string
	ShippingLabelPath string
	PrintablePDFURL   string
	ShipmentClaim     ShipmentClaim
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ShipmentClaim marks a carrier booking in flight. Until ExpiresAt only the holder of Token may
// book the shipment or record its tracking number.
type ShipmentClaim struct {
	Token     string
	ExpiresAt time.Time
}

// HeldAt reports whether the claim still blocks other bookings at now.
func (c ShipmentClaim) HeldAt(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// OrderItem is a single printed-deck line.
type OrderItem struct {
	BoxID          string
	DeckQuantity   int
	CardsPerDeck   int
	MaterialFinish string
	CardStock      string
	BoxType        string
}

// OrderCosts is the cost snapshot frozen when the order is created.
type OrderCosts struct {
	CardsSubtotal decimal.Decimal
	BoxesSubtotal decimal.Decimal
	Shipping      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
}

// OrderStatusEvent is one append-only history entry.
type OrderStatusEvent struct {
	Status OrderStatus
	Date   time.Time
}

// ShippingDetails is the destination postal address. CountryCode is ISO 3166-1 alpha-2.
type ShippingDetails struct {
	FullName     string
	Email        string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
	CountryCode  string
}

// PackageDetails describes the parcel used for rate lookup.
type PackageDetails struct {
	WeightKg float64
	LengthCm float64
	WidthCm  float64
	HeightCm float64
}

// ShippingOption is a normalised carrier rate.
type ShippingOption struct {
	ServiceName       string
	Price             decimal.Decimal
	Currency          string
	EstimatedDelivery *time.Time
}

// Shipment is the carrier response to a shipment creation request.
type Shipment struct {
	TrackingNumber string
	LabelDocument  []byte
	LabelFormat    string
}

// QuoteSummary holds unrounded quote components.
type QuoteSummary struct {
	Cards    decimal.Decimal
	Boxes    decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Quote is an advisory price and shipping estimate. It is never persisted.
type Quote struct {
	Summary         QuoteSummary
	ShippingOptions []ShippingOption
}
