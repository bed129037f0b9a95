package domain

import (
	"github.com/shopspring/decimal"
)

// PriceTable is the versioned card pricing configuration.
type PriceTable struct {
	Version string
	Rules   []CardTypeRule
}

// CardTypeRule holds the deck tiers for one card type.
type CardTypeRule struct {
	CardType string
	Pricing  []DeckTier
}

// DeckTier is a pricing bracket keyed by deck quantity. DeckRange is "min-max" or "min+".
// CardPriceByRange keeps declaration order; the first matching range wins.
type DeckTier struct {
	DeckRange        string
	CardPriceByRange []CardPriceRange
	BoxPrice         decimal.Decimal
}

// CardPriceRange maps a cards-per-deck "min-max" range to a unit card price.
type CardPriceRange struct {
	Range string
	Price decimal.Decimal
}

// UnitPrice is the result of resolving a price table entry.
type UnitPrice struct {
	CardPrice decimal.Decimal
	BoxPrice  decimal.Decimal
}

// Rule returns the rule for the given card type.
func (t PriceTable) Rule(cardType string) (CardTypeRule, bool) {
	for _, rule := range t.Rules {
		if rule.CardType == cardType {
			return rule, true
		}
	}
	return CardTypeRule{}, false
}
