package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product does not exist.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogUnavailable indicates the catalog backend is unavailable.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

const defaultCatalogPageSize = 50

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog repositories.CatalogRepository
	logger  func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{catalog: deps.Catalog, logger: logger}, nil
}

// ListProducts returns catalog pages for storefront browsing.
func (s *catalogService) ListProducts(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[CatalogProduct], error) {
	pagination := filter.Pagination
	if pagination.PageSize <= 0 {
		pagination.PageSize = defaultCatalogPageSize
	}

	page, err := s.catalog.ListProducts(ctx, repositories.CatalogFilter{
		Category:    filter.Category,
		InStockOnly: filter.InStockOnly,
		Pagination:  pagination,
	})
	if err != nil {
		return domain.CursorPage[CatalogProduct]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// GetProduct fetches a single catalog product.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (CatalogProduct, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CatalogProduct{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return CatalogProduct{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	return err
}
