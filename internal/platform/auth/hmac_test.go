package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sweepSecret = "sweep-signing-secret"

func sweepProvider() SecretProvider {
	return SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if name != "internal" {
			return "", nil
		}
		return sweepSecret, nil
	})
}

func signSweepRequest(t *testing.T, body string, ts time.Time, nonce string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments/expire-stale", strings.NewReader(body))
	timestamp := ts.UTC().Format(time.RFC3339)

	digest := sha256.Sum256([]byte(body))
	payload := strings.Join([]string{
		http.MethodPost,
		"/api/v1/internal/payments/expire-stale",
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(sweepSecret))
	mac.Write([]byte(payload))

	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(NonceHeader, nonce)
	return req
}

func TestRequireHMACAttachesServiceIdentity(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	validator := NewHMACValidator(sweepProvider(), NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)

	var identity *ServiceIdentity
	handler := validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signSweepRequest(t, `{"limit":25}`, now, "nonce-001"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected request to pass verification, got status %d: %s", rec.Code, rec.Body.String())
	}
	if identity == nil {
		t.Fatal("expected a service identity on the request context")
	}
	if identity.Subject != "internal" {
		t.Fatalf("unexpected identity subject %q", identity.Subject)
	}
	if !identity.SignedAt.Equal(now) {
		t.Fatalf("expected signed-at %s, got %s", now, identity.SignedAt)
	}
}

func TestRequireHMACRejectsReplayedNonce(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	validator := NewHMACValidator(sweepProvider(), NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)

	handler := validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, signSweepRequest(t, `{"limit":25}`, now, "nonce-dup"))
	if first.Code != http.StatusAccepted {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, signSweepRequest(t, `{"limit":25}`, now, "nonce-dup"))
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("replayed nonce should be rejected, got %d", second.Code)
	}
	if !bytes.Contains(second.Body.Bytes(), []byte("nonce_replay")) {
		t.Fatalf("expected nonce_replay error, got %s", second.Body.String())
	}
}

func TestRequireHMACRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	validator := NewHMACValidator(sweepProvider(), NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
		WithHMACClockSkew(time.Minute),
	)

	handler := validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signSweepRequest(t, `{"limit":25}`, now.Add(-10*time.Minute), "nonce-old"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale timestamp should be rejected, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("timestamp_skew")) {
		t.Fatalf("expected timestamp_skew error, got %s", rec.Body.String())
	}
}

func TestRequireHMACRejectsTamperedBody(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	validator := NewHMACValidator(sweepProvider(), NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)

	handler := validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := signSweepRequest(t, `{"limit":25}`, now, "nonce-tamper")
	req.Body = io.NopCloser(strings.NewReader(`{"limit":9999}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered body should be rejected, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("signature_mismatch")) {
		t.Fatalf("expected signature_mismatch error, got %s", rec.Body.String())
	}
}

func TestRequireHMACRejectsMissingHeaders(t *testing.T) {
	validator := NewHMACValidator(sweepProvider(), NewInMemoryNonceStore())
	handler := validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments/expire-stale", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request should be rejected, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("signature_missing")) {
		t.Fatalf("expected signature_missing error, got %s", rec.Body.String())
	}
}

func TestRequireHMACUnavailableWhenSecretEmpty(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	validator := NewHMACValidator(sweepProvider(), NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)

	handler := validator.RequireHMAC("unknown-secret")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signSweepRequest(t, "{}", now, "nonce-missing-secret"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing secret should yield 503, got %d", rec.Code)
	}
}

func TestInMemoryNonceStoreExpiresEntries(t *testing.T) {
	store := NewInMemoryNonceStore()
	ctx := context.Background()

	stored, err := store.UseNonce(ctx, "internal", "n1", time.Now().Add(50*time.Millisecond))
	if err != nil || !stored {
		t.Fatalf("first use should store the nonce: stored=%v err=%v", stored, err)
	}

	stored, err = store.UseNonce(ctx, "internal", "n1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored {
		t.Fatal("duplicate nonce should be rejected while live")
	}

	time.Sleep(60 * time.Millisecond)

	stored, err = store.UseNonce(ctx, "internal", "n1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored {
		t.Fatal("expired nonce should be accepted again")
	}
}
