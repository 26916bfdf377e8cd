package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretManager struct {
	values map[string]string
	err    error
	calls  []string
	closed bool
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls = append(f.calls, req.GetName())
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretManager) Close() error {
	f.closed = true
	return nil
}

func newTestFetcher(t *testing.T, client secretManagerClient, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{
		WithSecretManagerClient(client),
		WithDefaultProject("nellai-prod"),
		WithFallbackFile(""),
	}, opts...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}
	return fetcher
}

func TestResolveFetchesFromSecretManager(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/nellai-prod/secrets/stripe-api-key/versions/latest": "sk_live_123",
	}}
	fetcher := newTestFetcher(t, client)

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if value != "sk_live_123" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveCachesValues(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/nellai-prod/secrets/stripe-api-key/versions/latest": "sk_live_123",
	}}
	fetcher := newTestFetcher(t, client)

	for i := 0; i < 3; i++ {
		if _, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key"); err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
	}

	if len(client.calls) != 1 {
		t.Fatalf("expected one remote fetch, saw %d", len(client.calls))
	}
}

func TestResolveAcceptsShorthandScheme(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/nellai-prod/secrets/internal-hmac/versions/latest": "topsecret",
	}}
	fetcher := newTestFetcher(t, client)

	value, err := fetcher.Resolve(context.Background(), "sm://internal-hmac")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if value != "topsecret" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/nellai-staging/secrets/stripe-webhook/versions/7": "whsec_7",
	}}
	fetcher := newTestFetcher(t, client)

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-webhook?version=7&project=nellai-staging")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if value != "whsec_7" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	contents := "# local development secrets\nsecret://stripe-api-key=sk_test_local\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &fakeSecretManager{err: status.Error(codes.PermissionDenied, "no access")}
	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("resolve should fall back, got error: %v", err)
	}
	if value != "sk_test_local" {
		t.Fatalf("unexpected fallback value %q", value)
	}
}

func TestResolveSurfacesNotFound(t *testing.T) {
	client := &fakeSecretManager{}
	fetcher := newTestFetcher(t, client)

	if _, err := fetcher.Resolve(context.Background(), "secret://missing"); err == nil {
		t.Fatal("expected an error for a missing secret")
	}
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	fetcher := newTestFetcher(t, &fakeSecretManager{})

	cases := []string{"", "   ", "vault://thing", "secret://"}
	for _, ref := range cases {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Errorf("reference %q should be rejected", ref)
		}
	}
}

func TestFallbackFilePlainKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")
	if err := os.WriteFile(path, []byte("sm://internal-hmac=local-signing-key\n"), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &fakeSecretManager{err: status.Error(codes.Unavailable, "offline")}
	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	value, err := fetcher.Resolve(context.Background(), "secret://internal-hmac")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if value != "local-signing-key" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestCloseDoesNotOwnInjectedClient(t *testing.T) {
	client := &fakeSecretManager{}
	fetcher := newTestFetcher(t, client)

	if err := fetcher.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if client.closed {
		t.Fatal("fetcher must not close a client it does not own")
	}
}
