package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/deckforge/api/internal/platform/firestore"
	"github.com/deckforge/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out order sequence numbers from counters/{id}. Each call is one
// transaction, so concurrent order creation never reuses a number.
type CounterRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, now: time.Now}, nil
}

// Next adds step to the counter and returns the new value. A missing counter starts at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	step, err := repositories.ValidateCounterArgs(id, step)
	if err != nil {
		return 0, err
	}
	coll, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return 0, err
	}
	ref := coll.Doc(id)

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := readCounter(tx, ref)
		if err != nil {
			return err
		}
		if current > math.MaxInt64-step {
			return repositories.NewCounterError(id, repositories.CounterErrorCorrupt, fmt.Sprintf("counter would overflow at %d", current), nil)
		}
		next = current + step
		return tx.Set(ref, counterDocument{CurrentValue: next, UpdatedAt: r.now().UTC()})
	})

	var counterErr *repositories.CounterError
	switch {
	case err == nil:
		return next, nil
	case errors.As(err, &counterErr):
		return 0, counterErr
	default:
		return 0, pfirestore.WrapError("counters.next", err)
	}
}

// readCounter returns the stored value, or zero when the counter document does not exist yet.
func readCounter(tx *firestore.Transaction, ref *firestore.DocumentRef) (int64, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var doc counterDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, repositories.NewCounterError(ref.ID, repositories.CounterErrorCorrupt, fmt.Sprintf("decode counter: %v", err), err)
	}
	if doc.CurrentValue < 0 {
		return 0, repositories.NewCounterError(ref.ID, repositories.CounterErrorCorrupt, fmt.Sprintf("negative counter value %d", doc.CurrentValue), nil)
	}
	return doc.CurrentValue, nil
}
