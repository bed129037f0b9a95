package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type jwksServer struct {
	key *rsa.PrivateKey
	srv *httptest.Server

	mu       sync.Mutex
	requests int
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &jwksServer{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jwksServer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func schedulerClaims(aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   aud,
		"sub":   "1234567890",
		"email": "scheduler@deckforge.iam.gserviceaccount.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),

		"email_verified": true,
	}
}

func TestJWKSCache_KeyCachesKeys(t *testing.T) {
	server := newJWKSServer(t)
	cache := NewJWKSCache(server.srv.URL, WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }))

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if server.requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", server.requests)
	}
}

func TestJWKSCache_UnknownKeyRefetches(t *testing.T) {
	server := newJWKSServer(t)
	cache := NewJWKSCache(server.srv.URL)

	if _, err := cache.Key(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.requests != 2 {
		t.Fatalf("expected refetch for unknown kid, got %d requests", server.requests)
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=3600": time.Hour,
		"max-age=0":            0,
		"no-store":             0,
		"":                     0,
	}
	for header, want := range cases {
		if got := parseMaxAge(header); got != want {
			t.Errorf("parseMaxAge(%q) = %s, want %s", header, got, want)
		}
	}
}

var testPolicy = OIDCPolicy{
	Audience:        "https://api.deckforge.test",
	Issuers:         []string{"https://accounts.google.com"},
	ServiceAccounts: []string{" Scheduler@deckforge.iam.gserviceaccount.com "},
}

func TestRequireOIDC_Success(t *testing.T) {
	server := newJWKSServer(t)
	validator := NewOIDCValidator(NewJWKSCache(server.srv.URL), nil)
	token := server.sign(t, schedulerClaims("https://api.deckforge.test"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/pricing/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(testPolicy)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := ServiceIdentityFromContext(r.Context())
			if !ok || identity.Email != "scheduler@deckforge.iam.gserviceaccount.com" {
				t.Fatalf("expected service identity in context, got %+v", identity)
			}
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestRequireOIDC_Rejections(t *testing.T) {
	server := newJWKSServer(t)
	validator := NewOIDCValidator(NewJWKSCache(server.srv.URL), nil)

	foreignIssuer := schedulerClaims("https://api.deckforge.test")
	foreignIssuer["iss"] = "https://issuer.example.com"

	expired := schedulerClaims("https://api.deckforge.test")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing token"},
		{name: "audience mismatch", header: "Bearer " + server.sign(t, schedulerClaims("https://other.test"))},
		{name: "issuer mismatch", header: "Bearer " + server.sign(t, foreignIssuer)},
		{name: "expired", header: "Bearer " + server.sign(t, expired)},
		{name: "garbage", header: "Bearer not-a-jwt"},
	}

	handler := validator.RequireOIDC(testPolicy)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatalf("handler should not be called")
		}))

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/pricing/refresh", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestRequireOIDC_JWKSUnavailable(t *testing.T) {
	server := newJWKSServer(t)
	token := server.sign(t, schedulerClaims("https://api.deckforge.test"))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)

	validator := NewOIDCValidator(NewJWKSCache(down.URL), nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/pricing/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(OIDCPolicy{Audience: "https://api.deckforge.test"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestRequireOIDC_ServiceAccountAllowlist(t *testing.T) {
	server := newJWKSServer(t)
	validator := NewOIDCValidator(NewJWKSCache(server.srv.URL), nil)

	stranger := schedulerClaims("https://api.deckforge.test")
	stranger["email"] = "ci@deckforge.iam.gserviceaccount.com"

	unverified := schedulerClaims("https://api.deckforge.test")
	unverified["email_verified"] = false

	cases := map[string]struct {
		claims jwt.MapClaims
		policy OIDCPolicy
		want   int
	}{
		"listed account":     {claims: schedulerClaims("https://api.deckforge.test"), policy: testPolicy, want: http.StatusNoContent},
		"unlisted account":   {claims: stranger, policy: testPolicy, want: http.StatusForbidden},
		"unverified email":   {claims: unverified, policy: testPolicy, want: http.StatusForbidden},
		"no allowlist":       {claims: stranger, policy: OIDCPolicy{Audience: "https://api.deckforge.test"}, want: http.StatusNoContent},
		"unconfigured route": {claims: stranger, policy: OIDCPolicy{}, want: http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/pricing/refresh", nil)
			req.Header.Set("Authorization", "Bearer "+server.sign(t, tc.claims))
			validator.RequireOIDC(tc.policy)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}
