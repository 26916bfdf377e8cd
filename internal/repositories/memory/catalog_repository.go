package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

// CatalogRepository serves the sellable product catalog from process memory.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]domain.CatalogProduct
}

// NewCatalogRepository constructs a catalog repository seeded with the given
// products.
func NewCatalogRepository(products []domain.CatalogProduct) *CatalogRepository {
	indexed := make(map[string]domain.CatalogProduct, len(products))
	for _, product := range products {
		if strings.TrimSpace(product.ID) == "" {
			continue
		}
		indexed[product.ID] = product
	}
	return &CatalogRepository{products: indexed}
}

// ListProducts returns products matching the filter ordered by product ID.
func (r *CatalogRepository) ListProducts(_ context.Context, filter repositories.CatalogFilter) (domain.CursorPage[domain.CatalogProduct], error) {
	var category string
	if filter.Category != nil {
		category = strings.TrimSpace(*filter.Category)
	}

	r.mu.RLock()
	matched := make([]domain.CatalogProduct, 0, len(r.products))
	for _, product := range r.products {
		if category != "" && product.Category != category {
			continue
		}
		if filter.InStockOnly && !product.InStock {
			continue
		}
		matched = append(matched, product)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		start := len(matched)
		for i, product := range matched {
			if product.ID > token {
				start = i
				break
			}
		}
		matched = matched[start:]
	}

	limit := filter.Pagination.PageSize
	nextToken := ""
	if limit > 0 && len(matched) > limit {
		nextToken = matched[limit-1].ID
		matched = matched[:limit]
	}

	return domain.CursorPage[domain.CatalogProduct]{
		Items:         matched,
		NextPageToken: nextToken,
	}, nil
}

// GetProduct fetches a single product by ID.
func (r *CatalogRepository) GetProduct(_ context.Context, productID string) (domain.CatalogProduct, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CatalogProduct{}, errors.New("catalog repository: product id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[productID]
	if !ok {
		return domain.CatalogProduct{}, notFoundError("catalog.get_product", "product not found")
	}
	return product, nil
}

// SeedProducts returns the default grocery assortment used by the memory
// backend for local development and tests.
func SeedProducts() []domain.CatalogProduct {
	return []domain.CatalogProduct{
		{ID: "prod-001", Name: "Ponni Raw Rice", Category: "staples", UnitPrice: 62, Unit: "kg", InStock: true},
		{ID: "prod-002", Name: "Toor Dal", Category: "staples", UnitPrice: 148, Unit: "kg", InStock: true},
		{ID: "prod-003", Name: "Gingelly Oil", Category: "oils", UnitPrice: 320, Unit: "litre", InStock: true},
		{ID: "prod-004", Name: "Sunflower Oil", Category: "oils", UnitPrice: 135, Unit: "litre", InStock: true},
		{ID: "prod-005", Name: "Tomato", Category: "vegetables", UnitPrice: 38, Unit: "kg", InStock: true},
		{ID: "prod-006", Name: "Onion", Category: "vegetables", UnitPrice: 42, Unit: "kg", InStock: true},
		{ID: "prod-007", Name: "Curry Leaves", Category: "vegetables", UnitPrice: 10, Unit: "bunch", InStock: true},
		{ID: "prod-008", Name: "Full Cream Milk", Category: "dairy", UnitPrice: 34, Unit: "500ml", InStock: true},
		{ID: "prod-009", Name: "Curd", Category: "dairy", UnitPrice: 30, Unit: "500g", InStock: true},
		{ID: "prod-010", Name: "Filter Coffee Powder", Category: "beverages", UnitPrice: 240, Unit: "500g", InStock: true},
		{ID: "prod-011", Name: "Red Chilli Powder", Category: "spices", UnitPrice: 90, Unit: "250g", InStock: true},
		{ID: "prod-012", Name: "Turmeric Powder", Category: "spices", UnitPrice: 55, Unit: "250g", InStock: false},
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
