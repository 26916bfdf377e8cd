package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nellai-market/api/internal/platform/httpx"
	"github.com/nellai-market/api/internal/services"
)

const maxProductPageSize = 100

// ProductHandlers exposes the public grocery catalog.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs handlers backed by the catalog service.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes wires the /products endpoints onto the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.CatalogListFilter{
		Pagination: services.Pagination{
			PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
		},
	}

	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		filter.Category = &category
	}
	if inStock := strings.TrimSpace(r.URL.Query().Get("in_stock")); inStock != "" {
		value, err := strconv.ParseBool(inStock)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "in_stock must be a boolean", http.StatusBadRequest))
			return
		}
		filter.InStockOnly = value
	}
	if size := strings.TrimSpace(r.URL.Query().Get("page_size")); size != "" {
		value, err := strconv.Atoi(size)
		if err != nil || value <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		if value > maxProductPageSize {
			value = maxProductPageSize
		}
		filter.Pagination.PageSize = value
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	products := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		products = append(products, buildProductPayload(product))
	}

	writeJSONResponse(w, http.StatusOK, productListResponse{
		Products:      products,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}

func buildProductPayload(product services.CatalogProduct) productPayload {
	return productPayload{
		ID:        product.ID,
		Name:      product.Name,
		Category:  product.Category,
		UnitPrice: product.UnitPrice,
		Unit:      product.Unit,
		ImageURL:  product.ImageURL,
		InStock:   product.InStock,
	}
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	UnitPrice int64  `json:"unit_price"`
	Unit      string `json:"unit,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	InStock   bool   `json:"in_stock"`
}
