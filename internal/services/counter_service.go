package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deckforge/api/internal/repositories"
)

const orderCounterID = "orders"

var (
	// ErrCounterInvalidInput indicates the counter rejected its arguments.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterUnavailable indicates the sequence could not be advanced.
	ErrCounterUnavailable = errors.New("counter: unavailable")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

var _ CounterService = (*counterService)(nil)

// NewCounterService constructs the order id allocator on top of the counter repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// NextOrderID returns "#ORD-<year>-<seq>" with the sequence padded to at least five digits. The
// sequence is global, so it keeps increasing across years.
func (s *counterService) NextOrderID(ctx context.Context) (string, error) {
	value, err := s.repo.Next(ctx, orderCounterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		}
		return "", fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return FormatOrderID(s.clock().Year(), value), nil
}

// FormatOrderID renders an order identifier.
func FormatOrderID(year int, seq int64) string {
	return fmt.Sprintf("#ORD-%04d-%05d", year, seq)
}
