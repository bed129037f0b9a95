package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/deckforge/api/internal/di"
	"github.com/deckforge/api/internal/handlers"
	"github.com/deckforge/api/internal/payments"
	"github.com/deckforge/api/internal/platform/auth"
	"github.com/deckforge/api/internal/platform/config"
	pfirestore "github.com/deckforge/api/internal/platform/firestore"
	"github.com/deckforge/api/internal/platform/idempotency"
	"github.com/deckforge/api/internal/platform/jobs"
	"github.com/deckforge/api/internal/platform/observability"
	"github.com/deckforge/api/internal/platform/secrets"
	platformstorage "github.com/deckforge/api/internal/platform/storage"
	"github.com/deckforge/api/internal/repositories"
	firestoreRepo "github.com/deckforge/api/internal/repositories/firestore"
	"github.com/deckforge/api/internal/repositories/memory"
	"github.com/deckforge/api/internal/services"
	"github.com/deckforge/api/internal/shipping"
)

const firebaseVerifyTimeout = 5 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	metrics := observability.NewMetrics()

	var firestoreProvider *pfirestore.Provider
	if cfg.Repository.Driver == config.RepositoryDriverFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(credentialOptions(cfg)...))
	}

	registry, err := newRegistry(cfg, firestoreProvider, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	verifiers, err := newPaymentManager(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment verifiers", zap.Error(err))
	}

	carrier := shipping.NewClient(shipping.Config{
		BaseURL:       cfg.Carrier.BaseURL,
		APIKey:        cfg.Carrier.APIKey,
		APISecret:     cfg.Carrier.APISecret,
		AccountNumber: cfg.Carrier.AccountNumber,
		Timeout:       cfg.Carrier.Timeout,
		Shipper:       shipping.Shipper(cfg.Carrier.Shipper),
	}, shipping.WithObserver(metrics.CarrierRequest))
	if !carrier.Configured() {
		logger.Warn("carrier credentials not configured; quotes and shipments will fail")
	}

	integrations := di.Integrations{
		Carrier:  carrier,
		Payments: verifiers,
		Metrics:  metrics,
		Logger:   logger,
		Build:    buildInfo,
	}

	if labelStorage, closeStorage, err := newLabelStorage(ctx, cfg); err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	} else if labelStorage != nil {
		integrations.Storage = labelStorage
		defer closeStorage()
	} else {
		logger.Warn("storage buckets not configured; shipping labels will not be stored")
	}

	if publisher, closePublisher, err := newOrderEventPublisher(ctx, cfg); err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	} else if publisher != nil {
		integrations.Events = publisher
		defer closePublisher()
	}

	container, err := di.NewContainer(ctx, cfg, registry, integrations)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore, err := newIdempotencyStore(ctx, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	svc := container.Services
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	quoteHandlers := handlers.NewQuoteHandlers(svc.Quotes,
		handlers.WithQuoteRateLimit(cfg.Security.QuoteRateLimit, cfg.Security.QuoteRateWindow, nil),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithOrderCreateMiddlewares(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders)
	internalHandlers := handlers.NewInternalPricingHandlers(svc.Pricing)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(metrics),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithQuoteRoutes(quoteHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("deckforge api listening",
			zap.String("repository", cfg.Repository.Driver),
			zap.String("environment", buildInfo.Environment),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func credentialOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func newRegistry(cfg config.Config, provider *pfirestore.Provider, fetcher *secrets.Fetcher) (repositories.Registry, error) {
	switch cfg.Repository.Driver {
	case config.RepositoryDriverMemory:
		var priceTables repositories.PriceTableRepository
		if cfg.Pricing.Source == config.PricingSourceFile {
			fileRepo, err := memory.NewFilePriceTableRepository(cfg.Pricing.File)
			if err != nil {
				return nil, err
			}
			priceTables = fileRepo
		}
		return memory.NewRegistry(priceTables)
	case config.RepositoryDriverFirestore:
		reg, err := firestoreRepo.NewRegistry(provider, secretManagerCheck(fetcher))
		if err != nil {
			return nil, err
		}
		if cfg.Pricing.Source != config.PricingSourceFile {
			return reg, nil
		}
		fileRepo, err := memory.NewFilePriceTableRepository(cfg.Pricing.File)
		if err != nil {
			return nil, err
		}
		return filePricedRegistry{Registry: reg, priceTables: fileRepo}, nil
	default:
		return nil, fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver)
	}
}

// filePricedRegistry serves Firestore orders with a price table read from disk.
type filePricedRegistry struct {
	*firestoreRepo.Registry
	priceTables repositories.PriceTableRepository
}

func (r filePricedRegistry) PriceTables() repositories.PriceTableRepository { return r.priceTables }

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			if fetcher == nil {
				return nil
			}
			return fetcher.Ping(ctx, "healthz")
		},
	}
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	paymentsLogger := payments.Logger(observability.NewServiceLogger(logger, "payments"))

	stripeMode, err := payments.ParseMode(cfg.Payments.Stripe.Mode)
	if err != nil {
		return nil, err
	}
	stripeVerifier, err := payments.NewStripeVerifier(payments.StripeVerifierConfig{
		SecretKey: cfg.Payments.Stripe.SecretKey,
		Mode:      stripeMode,
		Currency:  cfg.Pricing.Currency,
		Timeout:   cfg.Payments.Timeout,
		Logger:    paymentsLogger,
	})
	if err != nil {
		return nil, err
	}

	paypalMode, err := payments.ParseMode(cfg.Payments.PayPal.Mode)
	if err != nil {
		return nil, err
	}
	paypalVerifier, err := payments.NewPayPalVerifier(payments.PayPalVerifierConfig{
		BaseURL:      cfg.Payments.PayPal.BaseURL,
		ClientID:     cfg.Payments.PayPal.ClientID,
		ClientSecret: cfg.Payments.PayPal.ClientSecret,
		Mode:         paypalMode,
		Currency:     cfg.Pricing.Currency,
		Timeout:      cfg.Payments.Timeout,
		Logger:       paymentsLogger,
	})
	if err != nil {
		return nil, err
	}

	manager, err := payments.NewManager(map[string]payments.Verifier{
		payments.MethodStripe: stripeVerifier,
		payments.MethodPayPal: paypalVerifier,
	}, payments.WithLogger(paymentsLogger))
	if err != nil {
		return nil, err
	}

	if cfg.Payments.RequireEnforced {
		if err := manager.RequireEnforced(); err != nil {
			return nil, err
		}
	}
	for method, mode := range manager.Modes() {
		if mode == payments.ModeBypassed {
			logger.Warn("payment verification bypassed", zap.String("method", method))
		}
	}
	return manager, nil
}

func newLabelStorage(ctx context.Context, cfg config.Config) (services.LabelStorage, func(), error) {
	if strings.TrimSpace(cfg.Storage.LabelsBucket) == "" && strings.TrimSpace(cfg.Storage.PrintableBucket) == "" {
		return nil, nil, nil
	}
	gcsClient, err := cloudstorage.NewClient(ctx, credentialOptions(cfg)...)
	if err != nil {
		return nil, nil, err
	}

	var opts []platformstorage.ClientOption
	switch {
	case strings.TrimSpace(cfg.Storage.SignerKeyFile) != "":
		signer, err := platformstorage.NewServiceAccountSignerFromFile(strings.TrimSpace(cfg.Storage.SignerKeyFile))
		if err != nil {
			_ = gcsClient.Close()
			return nil, nil, fmt.Errorf("storage signer: %w", err)
		}
		opts = append(opts, platformstorage.WithSigner(signer))
	case strings.TrimSpace(cfg.Storage.SignerAccount) != "":
		signer, err := platformstorage.NewIAMSigner(ctx, cfg.Storage.SignerAccount, credentialOptions(cfg)...)
		if err != nil {
			_ = gcsClient.Close()
			return nil, nil, fmt.Errorf("storage signer: %w", err)
		}
		opts = append(opts, platformstorage.WithSigner(signer))
	}
	client, err := platformstorage.NewClient(gcsClient, opts...)
	if err != nil {
		_ = gcsClient.Close()
		return nil, nil, err
	}
	return client, func() { _ = gcsClient.Close() }, nil
}

func newOrderEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, func(), error) {
	topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicID == "" {
		return nil, nil, nil
	}
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		projectID = traceProjectID(cfg)
	}
	client, err := pubsub.NewClient(ctx, projectID, credentialOptions(cfg)...)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Close()
		_ = client.Close()
	}, nil
}

func newIdempotencyStore(ctx context.Context, provider *pfirestore.Provider) (idempotency.Store, error) {
	if provider == nil {
		return idempotency.NewMemoryStore(), nil
	}
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return idempotency.NewFirestoreStore(client, provider.CollectionName(idempotency.DefaultCollection)), nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	policy := auth.OIDCPolicy{
		Audience:        cfg.Security.OIDC.Audience,
		Issuers:         cfg.Security.OIDC.Issuers,
		ServiceAccounts: cfg.Security.OIDC.ServiceAccounts,
	}
	if strings.TrimSpace(policy.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(policy.ServiceAccounts) == 0 {
		logger.Warn("auth: no OIDC service accounts listed; any Google-signed caller for the audience is accepted")
	}
	return validator.RequireOIDC(policy)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/deckforge/api/secrets")),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
