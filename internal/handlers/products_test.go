package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/services"
)

type stubCatalogService struct {
	listFn func(context.Context, services.CatalogListFilter) (domain.CursorPage[services.CatalogProduct], error)
	getFn  func(context.Context, string) (services.CatalogProduct, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.CatalogListFilter) (domain.CursorPage[services.CatalogProduct], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.CatalogProduct]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.CatalogProduct, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.CatalogProduct{}, errors.New("not implemented")
}

func newProductRouter(service services.CatalogService) chi.Router {
	handler := NewProductHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	return router
}

func TestProductHandlersListProductsFilters(t *testing.T) {
	var captured services.CatalogListFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.CatalogListFilter) (domain.CursorPage[services.CatalogProduct], error) {
			captured = filter
			return domain.CursorPage[services.CatalogProduct]{
				Items: []services.CatalogProduct{
					{
						ID:        "prod-001",
						Name:      "Ponni Rice 1kg",
						Category:  "staples",
						UnitPrice: 62,
						Unit:      "1kg",
						InStock:   true,
					},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	router := newProductRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/products?category=staples&in_stock=true&page_size=25&page_token=tok-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Category == nil || *captured.Category != "staples" {
		t.Fatalf("unexpected category filter %#v", captured.Category)
	}
	if !captured.InStockOnly {
		t.Fatalf("expected in-stock filter")
	}
	if captured.Pagination.PageSize != 25 || captured.Pagination.PageToken != "tok-1" {
		t.Fatalf("unexpected pagination %#v", captured.Pagination)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].ID != "prod-001" {
		t.Fatalf("unexpected products %#v", resp.Products)
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("expected next page token tok-2, got %q", resp.NextPageToken)
	}
}

func TestProductHandlersListProductsClampsPageSize(t *testing.T) {
	var captured services.CatalogListFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.CatalogListFilter) (domain.CursorPage[services.CatalogProduct], error) {
			captured = filter
			return domain.CursorPage[services.CatalogProduct]{}, nil
		},
	}

	router := newProductRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/products?page_size=5000", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Pagination.PageSize != maxProductPageSize {
		t.Fatalf("expected clamped page size %d, got %d", maxProductPageSize, captured.Pagination.PageSize)
	}
}

func TestProductHandlersListProductsRejectsBadInStock(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})
	req := httptest.NewRequest(http.MethodGet, "/products?in_stock=maybe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersGetProduct(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.CatalogProduct, error) {
			if productID != "prod-001" {
				t.Fatalf("unexpected product id %q", productID)
			}
			return services.CatalogProduct{ID: "prod-001", Name: "Ponni Rice 1kg", InStock: true}, nil
		},
	}

	router := newProductRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/products/prod-001", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Product.ID != "prod-001" || !resp.Product.InStock {
		t.Fatalf("unexpected product %#v", resp.Product)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.CatalogProduct, error) {
			return services.CatalogProduct{}, services.ErrCatalogProductNotFound
		},
	}

	router := newProductRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/products/prod-999", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
