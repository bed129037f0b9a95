package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 60 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultRepositoryDriver    = RepositoryDriverFirestore
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultPricingSource       = PricingSourceFirestore
	defaultPricingCacheTTL     = 5 * time.Minute
	defaultPricingCurrency     = "USD"
	defaultCarrierBaseURL      = "https://express.api.dhl.com/mydhlapi"
	defaultCarrierTimeout      = 20 * time.Second
	defaultCardWeightGrams     = 1.8
	defaultBoxWeightGrams      = 30
	defaultPaymentsTimeout     = 15 * time.Second
	defaultPayPalBaseURL       = "https://api-m.paypal.com"
	defaultSignedURLTTL        = 15 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultQuoteRateLimit      = 30
	defaultQuoteRateWindow     = time.Minute
)

var (
	defaultTaxRate      = decimal.RequireFromString("0.10")
	defaultFlatShipping = decimal.RequireFromString("35.00")
)

const (
	// RepositoryDriverFirestore persists through Cloud Firestore.
	RepositoryDriverFirestore = "firestore"
	// RepositoryDriverMemory keeps state in process; local development only.
	RepositoryDriverMemory = "memory"

	// PricingSourceFirestore reads the price table from the pricingRules collection.
	PricingSourceFirestore = "firestore"
	// PricingSourceFile reads the price table from a JSON document on disk.
	PricingSourceFile = "file"

	// VerificationEnforced asks the gateway to confirm every payment.
	VerificationEnforced = "enforced"
	// VerificationBypassed accepts every payment reference without a gateway call.
	VerificationBypassed = "bypassed"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Repository  RepositoryConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Pricing     PricingConfig
	Carrier     CarrierConfig
	Payments    PaymentsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// RepositoryConfig selects the persistence backend.
type RepositoryConfig struct {
	Driver string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string

	// CheckRevoked makes token verification consult Firebase for revoked sessions.
	CheckRevoked bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string

	// CollectionPrefix namespaces every collection, e.g. "staging_".
	CollectionPrefix string
}

// PubSubConfig configures order event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// StorageConfig lists buckets and signing material for Cloud Storage.
type StorageConfig struct {
	LabelsBucket    string
	PrintableBucket string
	SignerKeyFile   string
	SignerAccount   string
	SignedURLTTL    time.Duration
}

// PricingConfig controls the price table source and order cost constants.
type PricingConfig struct {
	Source       string
	File         string
	CacheTTL     time.Duration
	Currency     string
	TaxRate      decimal.Decimal
	FlatShipping decimal.Decimal
}

// CarrierConfig configures the carrier rate and shipment API.
type CarrierConfig struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	AccountNumber   string
	Timeout         time.Duration
	CardWeightGrams float64
	BoxWeightGrams  float64
	Shipper         ShipperConfig
}

// ShipperConfig is the fixed shipment origin.
type ShipperConfig struct {
	CompanyName  string
	ContactName  string
	Phone        string
	Email        string
	AddressLine1 string
	City         string
	PostalCode   string
	CountryCode  string
}

// PaymentsConfig collects gateway credentials and verification modes.
type PaymentsConfig struct {
	Timeout         time.Duration
	RequireEnforced bool
	Stripe          StripeConfig
	PayPal          PayPalConfig
}

// StripeConfig configures PaymentIntent verification.
type StripeConfig struct {
	SecretKey string
	Mode      string
}

// PayPalConfig configures capture verification.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Mode         string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	// QuoteRateLimit caps anonymous quote requests per client IP per QuoteRateWindow. Zero disables it.
	QuoteRateLimit  int
	QuoteRateWindow time.Duration
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
	// ServiceAccounts restricts internal callers to these verified service account emails.
	ServiceAccounts []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the effective environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). It lets callers build the secret
// fetcher before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	var invalid []string
	decimalField := func(key string, fallback decimal.Decimal) decimal.Decimal {
		value, err := decimalWithDefault(lookup, key, fallback)
		if err != nil {
			invalid = append(invalid, key)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Repository: RepositoryConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_REPOSITORY_DRIVER", defaultRepositoryDriver)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:        stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:     stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			CollectionPrefix: stringWithDefault(lookup, "API_FIRESTORE_COLLECTION_PREFIX", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Storage: StorageConfig{
			LabelsBucket:    stringWithDefault(lookup, "API_STORAGE_LABELS_BUCKET", ""),
			PrintableBucket: stringWithDefault(lookup, "API_STORAGE_PRINTABLE_BUCKET", ""),
			SignerKeyFile:   stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY_FILE", ""),
			SignerAccount:   stringWithDefault(lookup, "API_STORAGE_SIGNER_SERVICE_ACCOUNT", ""),
			SignedURLTTL:    durationWithDefault(lookup, "API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		Pricing: PricingConfig{
			Source:       strings.ToLower(stringWithDefault(lookup, "API_PRICING_SOURCE", defaultPricingSource)),
			File:         stringWithDefault(lookup, "API_PRICING_FILE", ""),
			CacheTTL:     durationWithDefault(lookup, "API_PRICING_CACHE_TTL", defaultPricingCacheTTL),
			Currency:     strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultPricingCurrency)),
			TaxRate:      decimalField("API_PRICING_TAX_RATE", defaultTaxRate),
			FlatShipping: decimalField("API_PRICING_FLAT_SHIPPING", defaultFlatShipping),
		},
		Carrier: CarrierConfig{
			BaseURL:         stringWithDefault(lookup, "API_CARRIER_BASE_URL", defaultCarrierBaseURL),
			APIKey:          stringWithDefault(lookup, "API_CARRIER_API_KEY", ""),
			APISecret:       stringWithDefault(lookup, "API_CARRIER_API_SECRET", ""),
			AccountNumber:   stringWithDefault(lookup, "API_CARRIER_ACCOUNT_NUMBER", ""),
			Timeout:         durationWithDefault(lookup, "API_CARRIER_TIMEOUT", defaultCarrierTimeout),
			CardWeightGrams: floatWithDefault(lookup, "API_CARRIER_CARD_WEIGHT_GRAMS", defaultCardWeightGrams),
			BoxWeightGrams:  floatWithDefault(lookup, "API_CARRIER_BOX_WEIGHT_GRAMS", defaultBoxWeightGrams),
			Shipper: ShipperConfig{
				CompanyName:  stringWithDefault(lookup, "API_CARRIER_SHIPPER_COMPANY", ""),
				ContactName:  stringWithDefault(lookup, "API_CARRIER_SHIPPER_CONTACT", ""),
				Phone:        stringWithDefault(lookup, "API_CARRIER_SHIPPER_PHONE", ""),
				Email:        stringWithDefault(lookup, "API_CARRIER_SHIPPER_EMAIL", ""),
				AddressLine1: stringWithDefault(lookup, "API_CARRIER_SHIPPER_ADDRESS", ""),
				City:         stringWithDefault(lookup, "API_CARRIER_SHIPPER_CITY", ""),
				PostalCode:   stringWithDefault(lookup, "API_CARRIER_SHIPPER_POSTAL_CODE", ""),
				CountryCode:  strings.ToUpper(stringWithDefault(lookup, "API_CARRIER_SHIPPER_COUNTRY", "")),
			},
		},
		Payments: PaymentsConfig{
			Timeout:         durationWithDefault(lookup, "API_PAYMENTS_TIMEOUT", defaultPaymentsTimeout),
			RequireEnforced: boolWithDefault(lookup, "API_PAYMENTS_REQUIRE_ENFORCED", false),
			Stripe: StripeConfig{
				SecretKey: stringWithDefault(lookup, "API_PAYMENTS_STRIPE_SECRET_KEY", ""),
				Mode:      strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_STRIPE_VERIFICATION", VerificationEnforced)),
			},
			PayPal: PayPalConfig{
				BaseURL:      stringWithDefault(lookup, "API_PAYMENTS_PAYPAL_BASE_URL", defaultPayPalBaseURL),
				ClientID:     stringWithDefault(lookup, "API_PAYMENTS_PAYPAL_CLIENT_ID", ""),
				ClientSecret: stringWithDefault(lookup, "API_PAYMENTS_PAYPAL_CLIENT_SECRET", ""),
				Mode:         strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_PAYPAL_VERIFICATION", VerificationEnforced)),
			},
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),

				ServiceAccounts: csvWithDefault(lookup, "API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
			QuoteRateLimit:  intWithDefault(lookup, "API_SECURITY_QUOTE_RATE_LIMIT", defaultQuoteRateLimit),
			QuoteRateWindow: durationWithDefault(lookup, "API_SECURITY_QUOTE_RATE_WINDOW", defaultQuoteRateWindow),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	secretFields := []*string{
		&cfg.Carrier.APIKey,
		&cfg.Carrier.APISecret,
		&cfg.Payments.Stripe.SecretKey,
		&cfg.Payments.PayPal.ClientSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Repository.Driver {
	case RepositoryDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case RepositoryDriverMemory:
	default:
		missing = append(missing, "Repository.Driver")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	switch cfg.Pricing.Source {
	case PricingSourceFirestore:
		if cfg.Repository.Driver != RepositoryDriverFirestore {
			missing = append(missing, "Pricing.Source")
		}
	case PricingSourceFile:
		if strings.TrimSpace(cfg.Pricing.File) == "" {
			missing = append(missing, "Pricing.File")
		}
	default:
		missing = append(missing, "Pricing.Source")
	}
	if cfg.Pricing.TaxRate.IsNegative() {
		missing = append(missing, "Pricing.TaxRate")
	}
	if cfg.Pricing.FlatShipping.IsNegative() {
		missing = append(missing, "Pricing.FlatShipping")
	}
	if len(cfg.Carrier.Shipper.CountryCode) != 2 {
		missing = append(missing, "Carrier.Shipper.CountryCode")
	}
	if cfg.Carrier.Timeout <= 0 {
		missing = append(missing, "Carrier.Timeout")
	}
	if !validVerificationMode(cfg.Payments.Stripe.Mode) {
		missing = append(missing, "Payments.Stripe.Mode")
	}
	if !validVerificationMode(cfg.Payments.PayPal.Mode) {
		missing = append(missing, "Payments.PayPal.Mode")
	}
	if cfg.Payments.Timeout <= 0 {
		missing = append(missing, "Payments.Timeout")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func validVerificationMode(mode string) bool {
	return mode == VerificationEnforced || mode == VerificationBypassed
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func decimalWithDefault(lookup func(string) (string, bool), key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fallback, err
	}
	return parsed, nil
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
