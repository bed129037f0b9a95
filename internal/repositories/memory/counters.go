package memory

import (
	"context"
	"sync"

	"github.com/deckforge/api/internal/repositories"
)

// CounterRepository is a mutex-guarded sequence store.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounterRepository constructs an empty counter repository.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	step, err := repositories.ValidateCounterArgs(counterID, step)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[counterID] += step
	return r.values[counterID], nil
}
