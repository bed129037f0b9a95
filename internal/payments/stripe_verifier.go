package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const defaultGatewayTimeout = 10 * time.Second

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeVerifierConfig configures the StripeVerifier.
type StripeVerifierConfig struct {
	SecretKey string
	Mode      VerificationMode
	Currency  string
	Timeout   time.Duration
	Backends  *stripe.Backends
	Logger    Logger

	intents stripePaymentIntentAPI
}

// StripeVerifier checks PaymentIntents through the Stripe API.
type StripeVerifier struct {
	intents  stripePaymentIntentAPI
	mode     VerificationMode
	currency string
	timeout  time.Duration
	logger   Logger
}

// NewStripeVerifier constructs a Stripe verifier. An enforced verifier without a secret key is
// still built; Verify reports ErrGatewayNotConfigured at call time.
func NewStripeVerifier(cfg StripeVerifierConfig) (*StripeVerifier, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeEnforced
	}
	if mode != ModeEnforced && mode != ModeBypassed {
		return nil, fmt.Errorf("stripe: invalid verification mode %q", mode)
	}

	intents := cfg.intents
	if intents == nil {
		if key := strings.TrimSpace(cfg.SecretKey); key != "" {
			intents = client.New(key, cfg.Backends).PaymentIntents
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeVerifier{
		intents:  intents,
		mode:     mode,
		currency: strings.ToLower(strings.TrimSpace(cfg.Currency)),
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Mode reports the configured verification mode.
func (v *StripeVerifier) Mode() VerificationMode { return v.mode }

// Verify retrieves the PaymentIntent and compares its status and received amount.
func (v *StripeVerifier) Verify(ctx context.Context, reference string, expected decimal.Decimal) (bool, error) {
	if v.mode == ModeBypassed {
		return true, nil
	}
	if v.intents == nil {
		return false, fmt.Errorf("%w: stripe secret key missing", ErrGatewayNotConfigured)
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := v.intents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			switch {
			case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
				v.logger(ctx, "payments.stripe.intent_missing", map[string]any{"reference": reference})
				return false, nil
			case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
				return false, fmt.Errorf("%w: stripe rejected credentials", ErrGatewayNotConfigured)
			}
		}
		return false, fmt.Errorf("%w: stripe: retrieve payment intent: %v", ErrGatewayUnavailable, err)
	}
	if intent == nil || intent.Status != stripe.PaymentIntentStatusSucceeded {
		status := ""
		if intent != nil {
			status = string(intent.Status)
		}
		v.logger(ctx, "payments.stripe.not_succeeded", map[string]any{"reference": reference, "status": status})
		return false, nil
	}
	if v.currency != "" && !strings.EqualFold(string(intent.Currency), v.currency) {
		v.logger(ctx, "payments.stripe.currency_mismatch", map[string]any{"reference": reference, "currency": string(intent.Currency)})
		return false, nil
	}

	// AmountReceived is authoritative; Amount is only what was requested.
	amount, err := fromMinorUnits(intent.AmountReceived, string(intent.Currency))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if !withinTolerance(amount, expected) {
		v.logger(ctx, "payments.stripe.amount_mismatch", map[string]any{
			"reference": reference,
			"amount":    amount.String(),
			"expected":  expected.StringFixed(2),
		})
		return false, nil
	}
	return true, nil
}
