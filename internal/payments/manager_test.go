package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeVerifier struct {
	mode   VerificationMode
	ok     bool
	err    error
	called int
}

func (f *fakeVerifier) Verify(context.Context, string, decimal.Decimal) (bool, error) {
	f.called++
	return f.ok, f.err
}

func (f *fakeVerifier) Mode() VerificationMode { return f.mode }

func TestManagerDispatchesCaseInsensitively(t *testing.T) {
	stripe := &fakeVerifier{mode: ModeEnforced, ok: true}
	paypal := &fakeVerifier{mode: ModeEnforced}
	mgr, err := NewManager(map[string]Verifier{"stripe": stripe, "paypal": paypal})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ok, err := mgr.Verify(context.Background(), " Stripe ", "pi_123", decimal.RequireFromString("10.00"))
	if err != nil || !ok {
		t.Fatalf("expected verified payment, got %v %v", ok, err)
	}
	if stripe.called != 1 || paypal.called != 0 {
		t.Fatalf("expected only stripe to be called, got stripe=%d paypal=%d", stripe.called, paypal.called)
	}
}

func TestManagerUnsupportedMethod(t *testing.T) {
	mgr, err := NewManager(map[string]Verifier{"stripe": &fakeVerifier{mode: ModeEnforced}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.Verify(context.Background(), "bitcoin", "ref", decimal.Zero)
	if !errors.Is(err, ErrUnsupportedPaymentMethod) {
		t.Fatalf("expected ErrUnsupportedPaymentMethod, got %v", err)
	}
	if mgr.Supports("bitcoin") || !mgr.Supports("STRIPE") {
		t.Fatalf("unexpected Supports result")
	}
}

func TestManagerBypassedSkipsVerifierAndLogs(t *testing.T) {
	bypassed := &fakeVerifier{mode: ModeBypassed}
	var events []string
	mgr, err := NewManager(map[string]Verifier{"paypal": bypassed}, WithLogger(func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ok, err := mgr.Verify(context.Background(), "paypal", "anything", decimal.RequireFromString("99.99"))
	if err != nil || !ok {
		t.Fatalf("expected bypass to accept, got %v %v", ok, err)
	}
	if bypassed.called != 0 {
		t.Fatalf("bypassed verifier must not be called")
	}
	if len(events) != 1 || events[0] != "payments.verification.bypassed" {
		t.Fatalf("expected bypass event, got %v", events)
	}
}

func TestManagerRequireEnforced(t *testing.T) {
	mgr, err := NewManager(map[string]Verifier{
		"stripe": &fakeVerifier{mode: ModeEnforced},
		"paypal": &fakeVerifier{mode: ModeBypassed},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if modes := mgr.Modes(); modes["paypal"] != ModeBypassed || modes["stripe"] != ModeEnforced {
		t.Fatalf("unexpected modes %v", modes)
	}
	if err := mgr.RequireEnforced(); !errors.Is(err, ErrVerificationBypassed) {
		t.Fatalf("expected ErrVerificationBypassed, got %v", err)
	}
}

func TestNewManagerValidatesVerifiers(t *testing.T) {
	if _, err := NewManager(map[string]Verifier{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil verifier")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when verifiers empty")
	}
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(""); err != nil || mode != ModeEnforced {
		t.Fatalf("expected enforced default, got %v %v", mode, err)
	}
	if mode, err := ParseMode("BYPASSED"); err != nil || mode != ModeBypassed {
		t.Fatalf("expected bypassed, got %v %v", mode, err)
	}
	if _, err := ParseMode("maybe"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestFromMinorUnitsUsesCurrencyScale(t *testing.T) {
	usd, err := fromMinorUnits(6864, "usd")
	if err != nil || !usd.Equal(decimal.RequireFromString("68.64")) {
		t.Fatalf("unexpected usd amount %s (%v)", usd, err)
	}
	jpy, err := fromMinorUnits(6864, "JPY")
	if err != nil || !jpy.Equal(decimal.NewFromInt(6864)) {
		t.Fatalf("unexpected jpy amount %s (%v)", jpy, err)
	}
	if _, err := fromMinorUnits(1, "ZZZ"); err == nil {
		t.Fatalf("expected unknown currency error")
	}
}
