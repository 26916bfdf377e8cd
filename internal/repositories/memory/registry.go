package memory

import (
	"context"
	"errors"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

// Registry bundles the in-memory repositories behind the shared
// repositories.Registry contract. It backs local development and tests
// where no Firestore project is available.
type Registry struct {
	customers *CustomerRepository
	orders    *OrderRepository
	carts     *CartRepository
	catalog   *CatalogRepository
	health    repositories.HealthRepository
}

// NewRegistry constructs a registry with empty stores and the default
// catalog seed. A nil health repository falls back to a static probe.
func NewRegistry(health repositories.HealthRepository) *Registry {
	if health == nil {
		fallback, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
			Name:  "memory",
			Check: func(context.Context) error { return nil },
		}})
		if err == nil {
			health = fallback
		}
	}
	return &Registry{
		customers: NewCustomerRepository(),
		orders:    NewOrderRepository(),
		carts:     NewCartRepository(),
		catalog:   NewCatalogRepository(SeedProducts()),
		health:    health,
	}
}

// WithProducts replaces the catalog seed. Intended for tests.
func (r *Registry) WithProducts(products []domain.CatalogProduct) *Registry {
	r.catalog = NewCatalogRepository(products)
	return r
}

// Close implements repositories.Registry. The memory backend holds no
// external resources.
func (r *Registry) Close(context.Context) error { return nil }

// Customers implements repositories.Registry.
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Carts implements repositories.Registry.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Catalog implements repositories.Registry.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Health implements repositories.Registry.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn directly. Individual repository operations are already
// serialised; the memory backend offers no cross-repository transactions.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory registry: transaction function is required")
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
