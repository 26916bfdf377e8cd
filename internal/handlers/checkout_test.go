package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/services"
)

type stubCheckoutService struct {
	submitFn func(context.Context, services.SubmitCheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Submit(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

func newCheckoutRouter(service services.CheckoutService) chi.Router {
	handler := NewCheckoutHandlers(service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)
	return router
}

func checkoutRequestBody(method string) string {
	return fmt.Sprintf(`{
		"cart_id": "cart-42",
		"customer": {"email": "meena@example.com", "first_name": "Meena", "last_name": "Raman", "phone": "+91-9876543210"},
		"address": {"first_name": "Meena", "address": "12 South Car Street", "city": "Tirunelveli", "zip_code": "627001", "phone": "+91-9876543210"},
		"payment_method": %q
	}`, method)
}

func TestCheckoutHandlersSubmitCOD(t *testing.T) {
	var captured services.SubmitCheckoutCommand
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			order := sampleOrder()
			order.PaymentMethod = domain.PaymentMethodCOD
			return services.CheckoutResult{
				Order: order,
				Customer: services.Customer{
					ID:        "cus-1",
					Email:     "meena@example.com",
					FirstName: "Meena",
				},
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("COD")))
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CartID != "cart-42" {
		t.Fatalf("unexpected cart id %q", captured.CartID)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("expected normalized method cod, got %q", captured.PaymentMethod)
	}
	if captured.IdempotencyKey != "key-1" {
		t.Fatalf("expected idempotency key from header, got %q", captured.IdempotencyKey)
	}
	if captured.Customer.Email != "meena@example.com" || captured.Address.City != "Tirunelveli" {
		t.Fatalf("unexpected command %#v", captured)
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord-1" || resp.Customer.ID != "cus-1" {
		t.Fatalf("unexpected response %#v", resp)
	}
	if resp.PaymentSession != nil {
		t.Fatalf("expected no payment session for cod, got %#v", resp.PaymentSession)
	}
	if resp.Replayed {
		t.Fatalf("expected fresh submission")
	}
}

func TestCheckoutHandlersSubmitGatewaySession(t *testing.T) {
	expires := time.Date(2026, 4, 12, 10, 45, 0, 0, time.UTC)
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Order:    sampleOrder(),
				Customer: services.Customer{ID: "cus-1", Email: "meena@example.com"},
				Session: &services.CheckoutSession{
					SessionID:   "cs_123",
					PSP:         "stripe",
					RedirectURL: "https://pay.example.com/cs_123",
					ExpiresAt:   expires,
				},
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("card")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PaymentSession == nil {
		t.Fatalf("expected payment session in response")
	}
	if resp.PaymentSession.SessionID != "cs_123" || resp.PaymentSession.PSP != "stripe" {
		t.Fatalf("unexpected session %#v", resp.PaymentSession)
	}
	if resp.PaymentSession.ExpiresAt == "" {
		t.Fatalf("expected session expiry to be set")
	}
}

func TestCheckoutHandlersReplayReturnsOK(t *testing.T) {
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Order:    sampleOrder(),
				Customer: services.Customer{ID: "cus-1"},
				Replayed: true,
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("card")))
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for replay, got %d", rr.Code)
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Replayed {
		t.Fatalf("expected replayed flag in response")
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid input", err: services.ErrCheckoutInvalidInput, status: http.StatusBadRequest},
		{name: "empty cart", err: services.ErrCheckoutEmptyCart, status: http.StatusUnprocessableEntity},
		{name: "session failed", err: services.ErrCheckoutSessionFailed, status: http.StatusBadGateway},
		{name: "ledger conflict", err: services.ErrOrderConflict, status: http.StatusConflict},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCheckoutService{
				submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}

			router := newCheckoutRouter(service)
			req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("card")))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestCheckoutHandlersRejectsInvalidJSON(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRateLimitsPerClient(t *testing.T) {
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{Order: sampleOrder(), Customer: services.Customer{ID: "cus-1"}}, nil
		},
	}

	router := newCheckoutRouter(service)
	for i := 0; i < checkoutRateLimit; i++ {
		req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("cod")))
		req.RemoteAddr = "203.0.113.7:5000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected status 201, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("cod")))
	req.RemoteAddr = "203.0.113.7:5000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 after limit, got %d", rr.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutRequestBody("cod")))
	other.RemoteAddr = "198.51.100.9:5000"
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, other)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected other client to pass, got %d", rr.Code)
	}
}
