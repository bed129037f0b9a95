package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultPayPalBaseURL = "https://api-m.paypal.com"
	payPalStatusComplete = "COMPLETED"
	tokenExpirySkew      = 30 * time.Second
)

// PayPalVerifierConfig configures the PayPalVerifier.
type PayPalVerifierConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Mode         VerificationMode
	Currency     string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       Logger
	Clock        func() time.Time
}

// PayPalVerifier checks captures and orders through the PayPal REST v2 API using an OAuth
// client-credentials token.
type PayPalVerifier struct {
	baseURL      string
	clientID     string
	clientSecret string
	mode         VerificationMode
	currency     string
	http         *http.Client
	logger       Logger
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewPayPalVerifier constructs a PayPal verifier.
func NewPayPalVerifier(cfg PayPalVerifierConfig) (*PayPalVerifier, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeEnforced
	}
	if mode != ModeEnforced && mode != ModeBypassed {
		return nil, fmt.Errorf("paypal: invalid verification mode %q", mode)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPayPalBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PayPalVerifier{
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		mode:         mode,
		currency:     strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		http:         httpClient,
		logger:       logger,
		now:          clock,
	}, nil
}

// Mode reports the configured verification mode.
func (v *PayPalVerifier) Mode() VerificationMode { return v.mode }

type payPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount payPalAmount `json:"amount"`
}

type payPalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount   payPalAmount `json:"amount"`
		Payments struct {
			Captures []payPalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// Verify looks the reference up as a capture first and falls back to an order lookup.
func (v *PayPalVerifier) Verify(ctx context.Context, reference string, expected decimal.Decimal) (bool, error) {
	if v.mode == ModeBypassed {
		return true, nil
	}
	if v.clientID == "" || v.clientSecret == "" {
		return false, fmt.Errorf("%w: paypal client credentials missing", ErrGatewayNotConfigured)
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, nil
	}

	token, err := v.accessToken(ctx)
	if err != nil {
		return false, err
	}

	var capture payPalCapture
	found, err := v.get(ctx, token, "/v2/payments/captures/"+url.PathEscape(reference), &capture)
	if err != nil {
		return false, err
	}
	if found {
		return v.compare(ctx, reference, capture.Status, capture.Amount, expected)
	}

	var order payPalOrder
	found, err = v.get(ctx, token, "/v2/checkout/orders/"+url.PathEscape(reference), &order)
	if err != nil {
		return false, err
	}
	if !found || len(order.PurchaseUnits) == 0 {
		v.logger(ctx, "payments.paypal.reference_missing", map[string]any{"reference": reference})
		return false, nil
	}
	unit := order.PurchaseUnits[0]
	if captures := unit.Payments.Captures; len(captures) > 0 {
		return v.compare(ctx, reference, captures[0].Status, captures[0].Amount, expected)
	}
	return v.compare(ctx, reference, order.Status, unit.Amount, expected)
}

func (v *PayPalVerifier) compare(ctx context.Context, reference, status string, amount payPalAmount, expected decimal.Decimal) (bool, error) {
	if !strings.EqualFold(status, payPalStatusComplete) {
		v.logger(ctx, "payments.paypal.not_completed", map[string]any{"reference": reference, "status": status})
		return false, nil
	}
	if v.currency != "" && !strings.EqualFold(amount.CurrencyCode, v.currency) {
		v.logger(ctx, "payments.paypal.currency_mismatch", map[string]any{"reference": reference, "currency": amount.CurrencyCode})
		return false, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(amount.Value))
	if err != nil {
		return false, fmt.Errorf("%w: paypal: invalid amount %q", ErrGatewayUnavailable, amount.Value)
	}
	if !withinTolerance(value, expected) {
		v.logger(ctx, "payments.paypal.amount_mismatch", map[string]any{
			"reference": reference,
			"amount":    value.String(),
			"expected":  expected.StringFixed(2),
		})
		return false, nil
	}
	return true, nil
}

func (v *PayPalVerifier) accessToken(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.token != "" && v.now().Before(v.tokenExpiry) {
		return v.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: paypal: %v", ErrGatewayUnavailable, err)
	}
	req.SetBasicAuth(v.clientID, v.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: paypal: token request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: paypal rejected client credentials", ErrGatewayNotConfigured)
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: paypal: token status %d: %s", ErrGatewayUnavailable, resp.StatusCode, drain(resp.Body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.AccessToken == "" {
		return "", fmt.Errorf("%w: paypal: decode token response", ErrGatewayUnavailable)
	}
	v.token = payload.AccessToken
	v.tokenExpiry = v.now().Add(time.Duration(payload.ExpiresIn)*time.Second - tokenExpirySkew)
	return v.token, nil
}

// get decodes a JSON resource into dst. A 404 reports found=false without an error.
func (v *PayPalVerifier) get(ctx context.Context, token, path string, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("%w: paypal: %v", ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: paypal: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		v.mu.Lock()
		v.token = ""
		v.mu.Unlock()
		return false, fmt.Errorf("%w: paypal: token rejected", ErrGatewayUnavailable)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: paypal: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, drain(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("%w: paypal: decode %s: %v", ErrGatewayUnavailable, path, err)
	}
	return true, nil
}

func drain(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(body))
}
