package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// VerificationMode controls whether a verifier consults its gateway.
type VerificationMode string

const (
	// ModeEnforced confirms every reference with the gateway.
	ModeEnforced VerificationMode = "enforced"
	// ModeBypassed accepts every reference without a network call. Local development only.
	ModeBypassed VerificationMode = "bypassed"
)

// Payment method names accepted on orders.
const (
	MethodStripe = "stripe"
	MethodPayPal = "paypal"
)

var (
	// ErrUnsupportedPaymentMethod is returned when no verifier is registered for the method.
	ErrUnsupportedPaymentMethod = errors.New("payments: unsupported payment method")
	// ErrGatewayUnavailable wraps transport and API failures while talking to a gateway.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayNotConfigured indicates an enforced verifier lacks credentials.
	ErrGatewayNotConfigured = errors.New("payments: gateway not configured")
	// ErrVerificationBypassed is returned by RequireEnforced when any verifier is bypassed.
	ErrVerificationBypassed = errors.New("payments: verification bypassed")
)

// amountTolerance absorbs minor-unit rounding differences between the gateway and local totals.
var amountTolerance = decimal.New(1, -2)

// Logger records structured payment events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Verifier confirms that a payment reference was settled for the expected amount. A mismatch
// returns false with a nil error; errors are reserved for gateway and configuration failures.
type Verifier interface {
	Verify(ctx context.Context, reference string, expected decimal.Decimal) (bool, error)
	Mode() VerificationMode
}

// ParseMode converts configuration strings into a VerificationMode.
func ParseMode(raw string) (VerificationMode, error) {
	switch VerificationMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeEnforced:
		return ModeEnforced, nil
	case ModeBypassed:
		return ModeBypassed, nil
	default:
		return "", fmt.Errorf("payments: unknown verification mode %q", raw)
	}
}

// Manager dispatches verification to the verifier registered for a payment method.
type Manager struct {
	verifiers map[string]Verifier
	logger    Logger
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for bypass warnings and verification outcomes.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a Manager over the supplied verifiers keyed by method name.
func NewManager(verifiers map[string]Verifier, opts ...ManagerOption) (*Manager, error) {
	if len(verifiers) == 0 {
		return nil, errors.New("payments: at least one verifier is required")
	}
	copyMap := make(map[string]Verifier, len(verifiers))
	for k, v := range verifiers {
		key := normaliseMethod(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid verifier registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		verifiers: copyMap,
		logger:    func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Supports reports whether a verifier is registered for method.
func (m *Manager) Supports(method string) bool {
	if m == nil {
		return false
	}
	_, ok := m.verifiers[normaliseMethod(method)]
	return ok
}

// Verify confirms reference against the gateway for method.
func (m *Manager) Verify(ctx context.Context, method, reference string, expected decimal.Decimal) (bool, error) {
	if m == nil {
		return false, errors.New("payments: manager is nil")
	}
	key := normaliseMethod(method)
	verifier, ok := m.verifiers[key]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, method)
	}
	if verifier.Mode() == ModeBypassed {
		m.logger(ctx, "payments.verification.bypassed", map[string]any{
			"method":   key,
			"expected": expected.StringFixed(2),
		})
		return true, nil
	}
	ok, err := verifier.Verify(ctx, reference, expected)
	fields := map[string]any{"method": key, "verified": ok}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger(ctx, "payments.verification.completed", fields)
	return ok, err
}

// Modes reports the verification mode of every registered verifier.
func (m *Manager) Modes() map[string]VerificationMode {
	out := make(map[string]VerificationMode, len(m.verifiers))
	for key, v := range m.verifiers {
		out[key] = v.Mode()
	}
	return out
}

// RequireEnforced fails when any verifier is bypassed.
func (m *Manager) RequireEnforced() error {
	var bypassed []string
	for key, mode := range m.Modes() {
		if mode != ModeEnforced {
			bypassed = append(bypassed, key)
		}
	}
	if len(bypassed) == 0 {
		return nil
	}
	sort.Strings(bypassed)
	return fmt.Errorf("%w: %s", ErrVerificationBypassed, strings.Join(bypassed, ", "))
}

func normaliseMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}

func withinTolerance(actual, expected decimal.Decimal) bool {
	return actual.Sub(expected).Abs().LessThanOrEqual(amountTolerance)
}

// fromMinorUnits converts an integer gateway amount to a decimal using the currency's standard scale.
func fromMinorUnits(amount int64, code string) (decimal.Decimal, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(amount, -int32(scale)), nil
}
