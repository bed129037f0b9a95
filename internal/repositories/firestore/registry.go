package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/deckforge/api/internal/platform/firestore"
	"github.com/deckforge/api/internal/repositories"
)

// Registry exposes the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider    *pfirestore.Provider
	orders      *OrderRepository
	counters    *CounterRepository
	priceTables *PriceTableRepository
	health      repositories.HealthRepository
}

// NewRegistry builds every Firestore repository on a shared provider. Extra dependency checks are
// probed next to Firestore by the health repository.
func NewRegistry(provider *pfirestore.Provider, checks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	priceTables, err := NewPriceTableRepository(provider)
	if err != nil {
		return nil, err
	}

	all := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider:    provider,
		orders:      orders,
		counters:    counters,
		priceTables: priceTables,
		health:      health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) PriceTables() repositories.PriceTableRepository { return r.priceTables }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
