package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/services"
)

type shippingDetailsPayload struct {
	FullName     string `json:"full_name" validate:"required,max=200"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Phone        string `json:"phone,omitempty" validate:"max=40"`
	AddressLine1 string `json:"address_line1" validate:"required,max=200"`
	AddressLine2 string `json:"address_line2,omitempty" validate:"max=200"`
	City         string `json:"city" validate:"required,max=120"`
	State        string `json:"state,omitempty" validate:"max=120"`
	PostalCode   string `json:"postal_code" validate:"required,max=20"`
	CountryCode  string `json:"country_code" validate:"required,len=2,alpha"`
}

func (p shippingDetailsPayload) toDomain() services.ShippingDetails {
	return services.ShippingDetails{
		FullName:     p.FullName,
		Email:        p.Email,
		Phone:        p.Phone,
		AddressLine1: p.AddressLine1,
		AddressLine2: p.AddressLine2,
		City:         p.City,
		State:        p.State,
		PostalCode:   p.PostalCode,
		CountryCode:  p.CountryCode,
	}
}

func shippingDetailsFromDomain(d services.ShippingDetails) shippingDetailsPayload {
	return shippingDetailsPayload{
		FullName:     d.FullName,
		Email:        d.Email,
		Phone:        d.Phone,
		AddressLine1: d.AddressLine1,
		AddressLine2: d.AddressLine2,
		City:         d.City,
		State:        d.State,
		PostalCode:   d.PostalCode,
		CountryCode:  d.CountryCode,
	}
}

type orderItemPayload struct {
	BoxID          string `json:"box_id" validate:"required"`
	DeckQuantity   int    `json:"deck_quantity" validate:"required,gt=0"`
	CardsPerDeck   int    `json:"cards_per_deck" validate:"required,gt=0"`
	MaterialFinish string `json:"material_finish" validate:"required"`
	CardStock      string `json:"card_stock" validate:"required"`
	BoxType        string `json:"box_type" validate:"required"`
}

type orderCostsPayload struct {
	CardsSubtotal string `json:"cards_subtotal"`
	BoxesSubtotal string `json:"boxes_subtotal"`
	Shipping      string `json:"shipping"`
	Tax           string `json:"tax"`
	Total         string `json:"total"`
}

type orderStatusEventPayload struct {
	Status string `json:"status"`
	Date   string `json:"date"`
}

type orderPayload struct {
	ID                string                    `json:"id"`
	UserID            string                    `json:"user_id"`
	Status            string                    `json:"status"`
	Items             []orderItemPayload        `json:"items"`
	ShippingDetails   shippingDetailsPayload    `json:"shipping_details"`
	Costs             orderCostsPayload         `json:"costs"`
	PaymentMethod     string                    `json:"payment_method"`
	TransactionID     string                    `json:"transaction_id"`
	StatusHistory     []orderStatusEventPayload `json:"status_history"`
	DHLTrackingNumber string                    `json:"dhl_tracking_number,omitempty"`
	HasShippingLabel  bool                      `json:"has_shipping_label"`
	PrintablePDFURL   string                    `json:"printable_pdf_url,omitempty"`
	CreatedAt         string                    `json:"created_at"`
	UpdatedAt         string                    `json:"updated_at"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			BoxID:          item.BoxID,
			DeckQuantity:   item.DeckQuantity,
			CardsPerDeck:   item.CardsPerDeck,
			MaterialFinish: item.MaterialFinish,
			CardStock:      item.CardStock,
			BoxType:        item.BoxType,
		})
	}
	history := make([]orderStatusEventPayload, 0, len(order.StatusHistory))
	for _, event := range order.StatusHistory {
		history = append(history, orderStatusEventPayload{
			Status: string(event.Status),
			Date:   formatTime(event.Date),
		})
	}
	return orderPayload{
		ID:                order.ID,
		UserID:            order.UserID,
		Status:            string(order.Status),
		Items:             items,
		ShippingDetails:   shippingDetailsFromDomain(order.ShippingDetails),
		Costs:             buildCostsPayload(order.Costs),
		PaymentMethod:     order.PaymentMethod,
		TransactionID:     order.TransactionID,
		StatusHistory:     history,
		DHLTrackingNumber: order.DHLTrackingNumber,
		HasShippingLabel:  order.ShippingLabelPath != "",
		PrintablePDFURL:   order.PrintablePDFURL,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
}

func buildCostsPayload(costs domain.OrderCosts) orderCostsPayload {
	return orderCostsPayload{
		CardsSubtotal: money(costs.CardsSubtotal),
		BoxesSubtotal: money(costs.BoxesSubtotal),
		Shipping:      money(costs.Shipping),
		Tax:           money(costs.Tax),
		Total:         money(costs.Total),
	}
}

// money renders an amount with two decimals. Amounts are only rounded here.
func money(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
