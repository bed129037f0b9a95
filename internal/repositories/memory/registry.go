package memory

import (
	"context"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/repositories"
)

// Registry bundles the in-process repositories. It backs local development and service tests.
type Registry struct {
	orders      *OrderRepository
	counters    *CounterRepository
	priceTables repositories.PriceTableRepository
	health      repositories.HealthRepository
}

// NewRegistry constructs a memory registry serving the supplied price table source.
func NewRegistry(priceTables repositories.PriceTableRepository, checks ...repositories.DependencyCheck) (*Registry, error) {
	if priceTables == nil {
		priceTables = NewPriceTableRepository(domain.PriceTable{})
	}
	all := append([]repositories.DependencyCheck{{Name: "memory", Check: func(context.Context) error { return nil }}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, err
	}
	return &Registry{
		orders:      NewOrderRepository(),
		counters:    NewCounterRepository(),
		priceTables: priceTables,
		health:      health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) PriceTables() repositories.PriceTableRepository { return r.priceTables }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

func (r *Registry) Close(context.Context) error { return nil }
