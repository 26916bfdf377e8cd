package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nellai-market/api/internal/platform/auth"
)

func checkoutRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestMiddlewareReplaysCompletedCheckout(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"orderId":"ord-%03d"}`, calls)
	}))

	first := httptest.NewRecorder()
	req := checkoutRequest(`{"cartId":"cart-1"}`)
	req.Header.Set("Idempotency-Key", "submit-42")
	handler.ServeHTTP(first, req)

	if first.Code != http.StatusCreated {
		t.Fatalf("first submission should reach the handler, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	retry := checkoutRequest(`{"cartId":"cart-1"}`)
	retry.Header.Set("Idempotency-Key", "submit-42")
	handler.ServeHTTP(second, retry)

	if calls != 1 {
		t.Fatalf("handler should run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay should carry the stored status, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("replayed response should be marked with the replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q differs from original %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRequiresKeyOnMutations(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, checkoutRequest(`{"cartId":"cart-1"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key should be rejected, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "idempotency_key_required") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestMiddlewareIgnoresReads(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET should bypass the guard, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	req := checkoutRequest(`{"cartId":"cart-1"}`)
	req.Header.Set("Idempotency-Key", "submit-7")
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusCreated {
		t.Fatalf("first submission should succeed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	altered := checkoutRequest(`{"cartId":"cart-OTHER"}`)
	altered.Header.Set("Idempotency-Key", "submit-7")
	handler.ServeHTTP(second, altered)

	if second.Code != http.StatusConflict {
		t.Fatalf("key reuse with a different payload should conflict, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "idempotency_key_conflict") {
		t.Fatalf("unexpected error body: %s", second.Body.String())
	}
}

func TestMiddlewareReportsInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := checkoutRequest(`{"cartId":"cart-1"}`)
	req.Header.Set("Idempotency-Key", "pending-key")

	body := []byte(`{"cartId":"cart-1"}`)
	fingerprint := requestFingerprint(req, body, "storefront")
	if _, err := store.Reserve(context.Background(), "pending-key|storefront", fingerprint, time.Now(), time.Hour); err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("in-flight key should report a conflict, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "idempotency_in_progress") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestMiddlewareScopesKeysByServiceCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	serve := func(identity *auth.ServiceIdentity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments/expire-stale", strings.NewReader(`{"limit":25}`))
		req.Header.Set("Idempotency-Key", "shared-key")
		if identity != nil {
			req = req.WithContext(auth.WithServiceIdentity(req.Context(), identity))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	asService := serve(&auth.ServiceIdentity{Subject: "internal"})
	if asService.Code != http.StatusAccepted {
		t.Fatalf("signed caller should reach the handler, got %d", asService.Code)
	}

	anonymous := serve(nil)
	if anonymous.Code != http.StatusAccepted {
		t.Fatalf("storefront caller with the same key should not collide, got %d", anonymous.Code)
	}

	if calls != 2 {
		t.Fatalf("distinct caller scopes should each run the handler, ran %d times", calls)
	}

	replay := serve(&auth.ServiceIdentity{Subject: "internal"})
	if replay.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("repeat from the same caller should replay the stored response")
	}
	if calls != 2 {
		t.Fatalf("replay must not rerun the handler, ran %d times", calls)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

	if err := store.SaveResponse(ctx, "k1", "fp", Response{Status: 201}, base, time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SaveResponse(ctx, "k2", "fp", Response{Status: 201}, base, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, base.Add(10*time.Minute), 50)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired record removed, got %d", removed)
	}

	reservation, err := store.Reserve(ctx, "k2", "fp", base.Add(10*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reservation.State != ReservationStateCompleted {
		t.Fatalf("live record should still replay, got state %d", reservation.State)
	}
}
