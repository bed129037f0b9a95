package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deckforge/api/internal/services"
)

type stubPricingEngine struct {
	version    string
	refreshErr error
	refreshes  int
}

func (s *stubPricingEngine) CalculatePrice(context.Context, string, int, int) (services.UnitPrice, error) {
	return services.UnitPrice{}, nil
}

func (s *stubPricingEngine) Refresh(context.Context) (string, error) {
	s.refreshes++
	return s.version, s.refreshErr
}

func TestInternalPricingHandlersRefresh(t *testing.T) {
	engine := &stubPricingEngine{version: "2026-03"}
	router := NewRouter(WithInternalRoutes(NewInternalPricingHandlers(engine).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/pricing/refresh", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body pricingRefreshResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Version != "2026-03" || engine.refreshes != 1 {
		t.Fatalf("unexpected refresh result %+v after %d refreshes", body, engine.refreshes)
	}
}

func TestInternalPricingHandlersRefreshFailure(t *testing.T) {
	engine := &stubPricingEngine{refreshErr: errors.New("firestore unavailable")}
	router := NewRouter(WithInternalRoutes(NewInternalPricingHandlers(engine).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/pricing/refresh", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "pricing_refresh_failed" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestInternalPricingHandlersGuardedByGroupMiddleware(t *testing.T) {
	engine := &stubPricingEngine{version: "v1"}
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	router := NewRouter(
		WithInternalRoutes(NewInternalPricingHandlers(engine).Routes),
		WithInternalMiddlewares(deny),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/pricing/refresh", nil))

	if rr.Code != http.StatusUnauthorized || engine.refreshes != 0 {
		t.Fatalf("expected middleware to block refresh, got %d with %d refreshes", rr.Code, engine.refreshes)
	}
}

var _ services.PricingEngine = (*stubPricingEngine)(nil)
