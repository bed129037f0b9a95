package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deckforge/api/internal/platform/config"
	"github.com/deckforge/api/internal/platform/observability"
	"github.com/deckforge/api/internal/repositories"
	"github.com/deckforge/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing  services.PricingEngine
	Quotes   services.QuoteService
	Counters services.CounterService
	Orders   services.OrderService
	System   services.SystemService
}

// OptionalHealthChecks lists dependency probes whose failure degrades readiness without failing it.
var OptionalHealthChecks = []string{"secretManager"}

// Integrations carries the external clients built by the entrypoint. Storage and Events may be
// nil; the order service then reports label operations as not configured and skips publishing.
type Integrations struct {
	Carrier  services.CarrierClient
	Payments services.PaymentVerifier
	Storage  services.LabelStorage
	Events   services.OrderEventPublisher
	Metrics  services.OrderMetrics
	Logger   *zap.Logger
	Build    services.BuildInfo
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, integrations Integrations) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, integrations)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, in Integrations) (Services, error) {
	var svc Services

	logger := in.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := in.Clock
	if clock == nil {
		clock = time.Now
	}
	pkg := services.PackageEstimator{
		CardWeightGrams: cfg.Carrier.CardWeightGrams,
		BoxWeightGrams:  cfg.Carrier.BoxWeightGrams,
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Source:   reg.PriceTables(),
		CacheTTL: cfg.Pricing.CacheTTL,
		Now:      clock,
		Logger:   observability.NewServiceLogger(logger, "pricing"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counters

	if healthRepo := reg.Health(); healthRepo != nil {
		build := in.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
			OptionalChecks:   OptionalHealthChecks,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	if in.Carrier == nil {
		return Services{}, errors.New("carrier client is required")
	}

	quotes, err := services.NewQuoteService(services.QuoteServiceDeps{
		Pricing: pricing,
		Carrier: in.Carrier,
		Package: pkg,
		TaxRate: cfg.Pricing.TaxRate,
		Now:     clock,
		Logger:  observability.NewServiceLogger(logger, "quote"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote service: %w", err)
	}
	svc.Quotes = quotes

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Counters:        counters,
		Pricing:         pricing,
		Payments:        in.Payments,
		Carrier:         in.Carrier,
		Storage:         in.Storage,
		Events:          in.Events,
		Metrics:         in.Metrics,
		Package:         pkg,
		TaxRate:         cfg.Pricing.TaxRate,
		FlatShipping:    cfg.Pricing.FlatShipping,
		ShipmentTimeout: cfg.Carrier.Timeout,
		LabelsBucket:    cfg.Storage.LabelsBucket,
		PrintableBucket: cfg.Storage.PrintableBucket,
		LabelURLTTL:     cfg.Storage.SignedURLTTL,
		Clock:           clock,
		Logger:          observability.NewServiceLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	return svc, nil
}
