package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
	delay  time.Duration
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.calls[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	value, ok := f.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(context.Background(), append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

const stripeLatest = "projects/deckforge-dev/secrets/stripe_secret_key/versions/latest"

func TestResolveCachesAndCoalesces(t *testing.T) {
	client := newFakeSecretClient()
	client.values[stripeLatest] = "sk_test_123"
	client.delay = 20 * time.Millisecond
	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("deckforge-dev"))

	ctx := context.Background()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := fetcher.Resolve(ctx, "secret://stripe_secret_key"); err != nil || got != "sk_test_123" {
				t.Errorf("Resolve = %q, %v", got, err)
			}
		}()
	}
	wg.Wait()
	if _, err := fetcher.Resolve(ctx, "secret://stripe_secret_key"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if calls := client.callCount(stripeLatest); calls != 1 {
		t.Fatalf("expected a single Secret Manager call, got %d", calls)
	}
}

func TestResolveSelectsProjectAndVersion(t *testing.T) {
	client := newFakeSecretClient()
	client.values["projects/deckforge-prod/secrets/paypal_client_secret/versions/3"] = "prod-v3"
	client.values["projects/ops-shared/secrets/carrier_api_key/versions/latest"] = "shared"
	fetcher := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithEnvironment("PROD"),
		WithDefaultProject("deckforge-dev"),
		WithProjectMap(map[string]string{" Prod ": "deckforge-prod"}),
	)

	cases := map[string]string{
		"secret://paypal_client_secret?version=3":     "prod-v3",
		"secret://carrier_api_key?project=ops-shared": "shared",
	}
	for ref, want := range cases {
		if got, err := fetcher.Resolve(context.Background(), ref); err != nil || got != want {
			t.Errorf("Resolve(%s) = %q, %v; want %q", ref, got, err, want)
		}
	}
}

func TestResolveFallbackRules(t *testing.T) {
	fallback := "# local values\nsm://stripe_secret_key=local-secret\nsecret://paypal_client_secret = local-paypal\n"
	cases := []struct {
		name    string
		remote  error
		ref     string
		want    string
		wantErr bool
	}{
		{name: "permission denied uses file", remote: status.Error(codes.PermissionDenied, "denied"), ref: "secret://stripe_secret_key", want: "local-secret"},
		{name: "unavailable uses file", remote: status.Error(codes.Unavailable, "down"), ref: "secret://stripe_secret_key", want: "local-secret"},
		{name: "not found never falls back", remote: status.Error(codes.NotFound, "missing"), ref: "secret://stripe_secret_key", wantErr: true},
		{name: "invalid argument surfaces", remote: status.Error(codes.InvalidArgument, "bad"), ref: "secret://stripe_secret_key", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeSecretClient()
			client.errs[stripeLatest] = tc.remote
			fetcher := newTestFetcher(t,
				WithSecretManagerClient(client),
				WithDefaultProject("deckforge-dev"),
				WithFallbackFile(writeFallback(t, fallback)),
			)
			got, err := fetcher.Resolve(context.Background(), tc.ref)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Resolve = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestFallbackOnlyMode(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	fetcher := newTestFetcher(t,
		WithDefaultProject("deckforge-dev"),
		WithFallbackFile(writeFallback(t, "secret://carrier_api_key=local-key\n")),
	)
	ctx := context.Background()
	if got, err := fetcher.Resolve(ctx, "secret://carrier_api_key"); err != nil || got != "local-key" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://unknown"); err == nil {
		t.Fatal("expected error for secret absent from fallback")
	}
	if err := fetcher.Ping(ctx, "healthz"); !errors.Is(err, ErrFallbackOnly) {
		t.Fatalf("expected fallback-only ping error, got %v", err)
	}
}

func TestPing(t *testing.T) {
	client := newFakeSecretClient()
	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("deckforge-dev"))
	ctx := context.Background()

	if err := fetcher.Ping(ctx, "healthz"); err != nil {
		t.Fatalf("NotFound should count as reachable: %v", err)
	}
	if err := fetcher.Ping(ctx, "healthz"); err != nil {
		t.Fatalf("second ping: %v", err)
	}
	if calls := client.callCount("projects/deckforge-dev/secrets/healthz/versions/latest"); calls != 2 {
		t.Fatalf("ping must bypass the cache, got %d calls", calls)
	}

	client.errs["projects/deckforge-dev/secrets/healthz/versions/latest"] = status.Error(codes.PermissionDenied, "denied")
	if err := fetcher.Ping(ctx, "healthz"); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected permission error, got %v", err)
	}

	unscoped := newTestFetcher(t, WithSecretManagerClient(client))
	if err := unscoped.Ping(ctx, "healthz"); err == nil {
		t.Fatalf("expected error without a project")
	}
}

func TestParseReference(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/secret", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
	parsed, err := parseReference(" secret://stripe_secret_key?version=4&project=p ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.canonical != "secret://stripe_secret_key" || parsed.version != "4" || parsed.project != "p" {
		t.Fatalf("unexpected reference %+v", parsed)
	}
}
