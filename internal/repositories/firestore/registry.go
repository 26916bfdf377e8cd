package firestore

import (
	"context"
	"errors"

	firestore "cloud.google.com/go/firestore"

	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
	"github.com/nellai-market/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the shared
// repositories.Registry contract so callers can swap storage backends
// without touching wiring.
type Registry struct {
	provider  *pfirestore.Provider
	customers *CustomerRepository
	orders    *OrderRepository
	carts     *CartRepository
	catalog   *CatalogRepository
	health    repositories.HealthRepository
}

// NewRegistry wires every Firestore repository against the shared provider.
// The health repository is supplied by the caller because its dependency
// probes span more than the datastore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		customers: customers,
		orders:    orders,
		carts:     carts,
		catalog:   catalog,
		health:    health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

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

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// from fn still issue their own reads and writes; the hook exists so services
// can group cross-repository work when the backend supports it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("firestore registry: provider is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
