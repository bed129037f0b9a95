package services

import (
	"math"

	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
)

var defaultTaxRate = decimal.RequireFromString("0.10")

// computeCosts derives the unrounded cost breakdown. Components are summed before any rounding so
// the rendered total matches the rendered parts.
func computeCosts(unit UnitPrice, deckQuantity int, shipping, taxRate decimal.Decimal) domain.OrderCosts {
	decks := decimal.NewFromInt(int64(deckQuantity))
	cards := unit.CardPrice.Mul(decks)
	boxes := unit.BoxPrice.Mul(decks)
	taxable := cards.Add(boxes).Add(shipping)
	tax := taxable.Mul(taxRate)
	return domain.OrderCosts{
		CardsSubtotal: cards,
		BoxesSubtotal: boxes,
		Shipping:      shipping,
		Tax:           tax,
		Total:         taxable.Add(tax),
	}
}

// PackageEstimator converts a deck order into parcel weight and dimensions for the carrier.
type PackageEstimator struct {
	CardWeightGrams float64
	BoxWeightGrams  float64
}

const (
	parcelLengthCm    = 20
	parcelWidthCm     = 15
	deckHeightCm      = 2.5
	minParcelHeightCm = 5
	minParcelWeightKg = 0.1
)

// Estimate returns the parcel for deckQuantity decks of cardsPerDeck cards. Decks stack in a single
// carton of fixed footprint.
func (p PackageEstimator) Estimate(deckQuantity, cardsPerDeck int) domain.PackageDetails {
	card := p.CardWeightGrams
	if card <= 0 {
		card = 1.8
	}
	box := p.BoxWeightGrams
	if box <= 0 {
		box = 30
	}
	grams := float64(deckQuantity) * (float64(cardsPerDeck)*card + box)
	weight := math.Max(math.Ceil(grams/100)/10, minParcelWeightKg)
	height := math.Max(float64(deckQuantity)*deckHeightCm, minParcelHeightCm)
	return domain.PackageDetails{
		WeightKg: weight,
		LengthCm: parcelLengthCm,
		WidthCm:  parcelWidthCm,
		HeightCm: height,
	}
}
