package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nellai-market/api/internal/services"
)

type stubCartService struct {
	getFn    func(context.Context, string) (services.Cart, error)
	addFn    func(context.Context, services.AddCartItemCommand) (services.Cart, error)
	updateFn func(context.Context, services.UpdateCartItemCommand) (services.Cart, error)
	removeFn func(context.Context, services.RemoveCartItemCommand) (services.Cart, error)
	clearFn  func(context.Context, string) error
}

func (s *stubCartService) GetCart(ctx context.Context, cartID string) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cartID)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) ClearCart(ctx context.Context, cartID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, cartID)
	}
	return errors.New("not implemented")
}

func sampleCart() services.Cart {
	return services.Cart{
		ID: "cart-42",
		Lines: []services.CartLine{
			{
				ProductID:   "prod-001",
				ProductName: "Ponni Rice 1kg",
				UnitPrice:   62,
				Quantity:    2,
				AddedAt:     time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC),
			},
			{
				ProductID:   "prod-005",
				ProductName: "Country Tomato 500g",
				UnitPrice:   38,
				Quantity:    1,
				AddedAt:     time.Date(2026, 4, 12, 9, 5, 0, 0, time.UTC),
			},
		},
		UpdatedAt: time.Date(2026, 4, 12, 9, 5, 0, 0, time.UTC),
	}
}

func newCartRouter(service services.CartService) chi.Router {
	handler := NewCartHandlers(service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	service := &stubCartService{
		getFn: func(ctx context.Context, cartID string) (services.Cart, error) {
			if cartID != "cart-42" {
				t.Fatalf("unexpected cart id %q", cartID)
			}
			return sampleCart(), nil
		},
	}

	router := newCartRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/cart/cart-42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Cart.ID != "cart-42" {
		t.Fatalf("unexpected cart id %q", resp.Cart.ID)
	}
	if resp.Cart.TotalItems != 3 {
		t.Fatalf("expected 3 total items, got %d", resp.Cart.TotalItems)
	}
	if resp.Cart.Subtotal != 162 {
		t.Fatalf("expected subtotal 162, got %d", resp.Cart.Subtotal)
	}
	if len(resp.Cart.Lines) != 2 || resp.Cart.Lines[0].Subtotal != 124 {
		t.Fatalf("unexpected lines %#v", resp.Cart.Lines)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			captured = cmd
			return sampleCart(), nil
		},
	}

	router := newCartRouter(service)
	body := bytes.NewBufferString(`{"product_id":"prod-001","quantity":2}`)
	req := httptest.NewRequest(http.MethodPost, "/cart/cart-42/items", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CartID != "cart-42" || captured.ProductID != "prod-001" || captured.Quantity != 2 {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersAddItemRejectsMissingBody(t *testing.T) {
	router := newCartRouter(&stubCartService{})
	req := httptest.NewRequest(http.MethodPost, "/cart/cart-42/items", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemOutOfStock(t *testing.T) {
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartProductUnavailable
		},
	}

	router := newCartRouter(service)
	body := bytes.NewBufferString(`{"product_id":"prod-012","quantity":1}`)
	req := httptest.NewRequest(http.MethodPost, "/cart/cart-42/items", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemQuantity(t *testing.T) {
	var captured services.UpdateCartItemCommand
	service := &stubCartService{
		updateFn: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			captured = cmd
			return sampleCart(), nil
		},
	}

	router := newCartRouter(service)
	body := bytes.NewBufferString(`{"quantity":5}`)
	req := httptest.NewRequest(http.MethodPatch, "/cart/cart-42/items/prod-001", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CartID != "cart-42" || captured.ProductID != "prod-001" || captured.Quantity != 5 {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersUpdateItemQuantityRequired(t *testing.T) {
	router := newCartRouter(&stubCartService{})
	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPatch, "/cart/cart-42/items/prod-001", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveAbsentLineReturnsCart(t *testing.T) {
	service := &stubCartService{
		removeFn: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			return sampleCart(), nil
		},
	}

	router := newCartRouter(service)
	req := httptest.NewRequest(http.MethodDelete, "/cart/cart-42/items/prod-404", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemNotFound(t *testing.T) {
	service := &stubCartService{
		updateFn: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartLineNotFound
		},
	}

	router := newCartRouter(service)
	body := bytes.NewBufferString(`{"quantity": 3}`)
	req := httptest.NewRequest(http.MethodPatch, "/cart/cart-42/items/prod-404", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFn: func(ctx context.Context, cartID string) error {
			cleared = cartID == "cart-42"
			return nil
		},
	}

	router := newCartRouter(service)
	req := httptest.NewRequest(http.MethodDelete, "/cart/cart-42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected clear to be invoked for cart-42")
	}
}
