package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
)

// PriceTableRepository serves a fixed price table.
type PriceTableRepository struct {
	mu    sync.RWMutex
	table domain.PriceTable
}

// NewPriceTableRepository wraps the provided table.
func NewPriceTableRepository(table domain.PriceTable) *PriceTableRepository {
	return &PriceTableRepository{table: table}
}

func (r *PriceTableRepository) Load(context.Context) (domain.PriceTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table, nil
}

// Replace swaps the served table.
func (r *PriceTableRepository) Replace(table domain.PriceTable) {
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
}

// FilePriceTableRepository reads the price table from a JSON document on every Load, so a
// pricing refresh picks up edits to the file.
type FilePriceTableRepository struct {
	path string
}

// NewFilePriceTableRepository validates that the file parses before returning the repository.
func NewFilePriceTableRepository(path string) (*FilePriceTableRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("price table file path is required")
	}
	repo := &FilePriceTableRepository{path: path}
	if _, err := repo.Load(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FilePriceTableRepository) Load(context.Context) (domain.PriceTable, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return domain.PriceTable{}, fmt.Errorf("read price table %s: %w", r.path, err)
	}
	table, err := ParsePriceTable(data)
	if err != nil {
		return domain.PriceTable{}, fmt.Errorf("parse price table %s: %w", r.path, err)
	}
	return table, nil
}

type priceTableFile struct {
	Version string             `json:"version"`
	Rules   []cardTypeRuleFile `json:"rules"`
}

type cardTypeRuleFile struct {
	CardType string         `json:"cardType"`
	Pricing  []deckTierFile `json:"pricing"`
}

type deckTierFile struct {
	DeckRange        string          `json:"deckRange"`
	CardPriceByRange orderedPrices   `json:"cardPriceByRange"`
	BoxPrice         decimal.Decimal `json:"boxPrice"`
}

// orderedPrices decodes cardPriceByRange either as a JSON object, keeping key order, or as an
// array of {range, price} entries.
type orderedPrices []domain.CardPriceRange

func (p *orderedPrices) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []struct {
			Range string          `json:"range"`
			Price decimal.Decimal `json:"price"`
		}
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return err
		}
		out := make(orderedPrices, 0, len(entries))
		for _, entry := range entries {
			out = append(out, domain.CardPriceRange{Range: entry.Range, Price: entry.Price})
		}
		*p = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("cardPriceByRange must be an object or array")
	}
	var out orderedPrices
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var price decimal.Decimal
		if err := dec.Decode(&price); err != nil {
			return fmt.Errorf("price for range %q: %w", key, err)
		}
		out = append(out, domain.CardPriceRange{Range: key, Price: price})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// ParsePriceTable decodes a JSON price table document.
func ParsePriceTable(data []byte) (domain.PriceTable, error) {
	var file priceTableFile
	if err := json.Unmarshal(data, &file); err != nil {
		return domain.PriceTable{}, err
	}
	table := domain.PriceTable{Version: file.Version, Rules: make([]domain.CardTypeRule, 0, len(file.Rules))}
	seen := make(map[string]struct{}, len(file.Rules))
	for _, rule := range file.Rules {
		if rule.CardType == "" {
			return domain.PriceTable{}, errors.New("rule without cardType")
		}
		if _, dup := seen[rule.CardType]; dup {
			return domain.PriceTable{}, fmt.Errorf("duplicate cardType %q", rule.CardType)
		}
		seen[rule.CardType] = struct{}{}
		out := domain.CardTypeRule{CardType: rule.CardType, Pricing: make([]domain.DeckTier, 0, len(rule.Pricing))}
		for _, tier := range rule.Pricing {
			out.Pricing = append(out.Pricing, domain.DeckTier{
				DeckRange:        tier.DeckRange,
				CardPriceByRange: []domain.CardPriceRange(tier.CardPriceByRange),
				BoxPrice:         tier.BoxPrice,
			})
		}
		table.Rules = append(table.Rules, out)
	}
	return table, nil
}
