package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	domain "github.com/deckforge/api/internal/domain"
	pfirestore "github.com/deckforge/api/internal/platform/firestore"
)

const pricingRulesCollection = "pricingRules"

type pricingRuleDocument struct {
	CardType  string             `firestore:"cardType"`
	Position  int                `firestore:"position"`
	Pricing   []deckTierDocument `firestore:"pricing"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type deckTierDocument struct {
	DeckRange        string                   `firestore:"deckRange"`
	CardPriceByRange []cardPriceRangeDocument `firestore:"cardPriceByRange"`
	BoxPrice         string                   `firestore:"boxPrice"`
}

type cardPriceRangeDocument struct {
	Range string `firestore:"range"`
	Price string `firestore:"price"`
}

// PriceTableRepository loads the card price table from the pricingRules collection. Each document
// holds one card type; documents are ordered by their position field. The table version is the
// latest updatedAt across documents.
type PriceTableRepository struct {
	provider *pfirestore.Provider
}

// NewPriceTableRepository constructs a Firestore-backed price table repository.
func NewPriceTableRepository(provider *pfirestore.Provider) (*PriceTableRepository, error) {
	if provider == nil {
		return nil, errors.New("price table repository requires firestore provider")
	}
	return &PriceTableRepository{provider: provider}, nil
}

// Load reads every pricing rule document in a read-only transaction so a concurrent Seed is
// observed either entirely or not at all.
func (r *PriceTableRepository) Load(ctx context.Context) (domain.PriceTable, error) {
	coll, err := r.provider.Collection(ctx, pricingRulesCollection)
	if err != nil {
		return domain.PriceTable{}, err
	}

	var (
		docs    []pricingRuleDocument
		version time.Time
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, version = docs[:0], time.Time{}
		iter := tx.Documents(coll)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return pfirestore.WrapError("pricingRules.load", err)
			}
			var doc pricingRuleDocument
			if err := snap.DataTo(&doc); err != nil {
				return pfirestore.WrapError("pricingRules.decode", err)
			}
			if doc.CardType == "" {
				doc.CardType = snap.Ref.ID
			}
			if doc.UpdatedAt.After(version) {
				version = doc.UpdatedAt
			}
			docs = append(docs, doc)
		}
	}, pfirestore.WithTxReadOnly())
	if err != nil {
		return domain.PriceTable{}, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Position != docs[j].Position {
			return docs[i].Position < docs[j].Position
		}
		return docs[i].CardType < docs[j].CardType
	})

	table := domain.PriceTable{Rules: make([]domain.CardTypeRule, 0, len(docs))}
	if !version.IsZero() {
		table.Version = version.UTC().Format(time.RFC3339)
	}
	for _, doc := range docs {
		rule, err := decodeRule(doc)
		if err != nil {
			return domain.PriceTable{}, err
		}
		table.Rules = append(table.Rules, rule)
	}
	return table, nil
}

func decodeRule(doc pricingRuleDocument) (domain.CardTypeRule, error) {
	rule := domain.CardTypeRule{CardType: doc.CardType, Pricing: make([]domain.DeckTier, 0, len(doc.Pricing))}
	for _, tierDoc := range doc.Pricing {
		box, err := decimal.NewFromString(tierDoc.BoxPrice)
		if err != nil {
			return domain.CardTypeRule{}, fmt.Errorf("pricing rule %s tier %s: box price %q: %w", doc.CardType, tierDoc.DeckRange, tierDoc.BoxPrice, err)
		}
		tier := domain.DeckTier{DeckRange: tierDoc.DeckRange, BoxPrice: box}
		for _, rangeDoc := range tierDoc.CardPriceByRange {
			price, err := decimal.NewFromString(rangeDoc.Price)
			if err != nil {
				return domain.CardTypeRule{}, fmt.Errorf("pricing rule %s range %s: price %q: %w", doc.CardType, rangeDoc.Range, rangeDoc.Price, err)
			}
			tier.CardPriceByRange = append(tier.CardPriceByRange, domain.CardPriceRange{Range: rangeDoc.Range, Price: price})
		}
		rule.Pricing = append(rule.Pricing, tier)
	}
	return rule, nil
}

// SeedPriceTable writes the table into pricingRules, one document per card type. It is used by
// the emulator integration tests and local seeding.
func (r *PriceTableRepository) SeedPriceTable(ctx context.Context, table domain.PriceTable, now time.Time) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	batch := client.BulkWriter(ctx)
	jobs := make([]writeJob, 0, len(table.Rules))
	for i, rule := range table.Rules {
		doc := pricingRuleDocument{CardType: rule.CardType, Position: i, UpdatedAt: now.UTC()}
		for _, tier := range rule.Pricing {
			tierDoc := deckTierDocument{DeckRange: tier.DeckRange, BoxPrice: tier.BoxPrice.String()}
			for _, cr := range tier.CardPriceByRange {
				tierDoc.CardPriceByRange = append(tierDoc.CardPriceByRange, cardPriceRangeDocument{Range: cr.Range, Price: cr.Price.String()})
			}
			doc.Pricing = append(doc.Pricing, tierDoc)
		}
		job, err := batch.Set(client.Collection(r.provider.CollectionName(pricingRulesCollection)).Doc(rule.CardType), doc)
		if err != nil {
			batch.End()
			return pfirestore.WrapError("pricingRules.seed", err)
		}
		jobs = append(jobs, job)
	}
	batch.End()
	return pfirestore.WrapError("pricingRules.seed", awaitWrites(jobs))
}

// writeJob is the part of *firestore.BulkWriterJob needed to learn a write's outcome.
type writeJob interface {
	Results() (*firestore.WriteResult, error)
}

// awaitWrites blocks until every enqueued write settles and joins their failures.
func awaitWrites(jobs []writeJob) error {
	var errs []error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, fmt.Errorf("write %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

