package repositories

import (
	"context"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Customers() CustomerRepository
	Orders() OrderRepository
	Carts() CartRepository
	Catalog() CatalogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CustomerRepository stores customer accounts keyed by email identity.
type CustomerRepository interface {
	// UpsertByEmail creates the customer on first contact or refreshes the
	// stored profile fields on later checkouts. Email identity is
	// case-insensitive; concurrent upserts for the same email must converge
	// on a single record.
	UpsertByEmail(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
}

// OrderCreateRequest carries everything the ledger persists atomically when
// an order is placed: header, lines, and the initial payment record.
type OrderCreateRequest struct {
	Order domain.Order
	Now   time.Time
}

// OrderCreateResult reports the stored order and whether the write was a
// replay of a previously recorded idempotency key.
type OrderCreateResult struct {
	Order    domain.Order
	Replayed bool
}

// OrderListFilter narrows order listings for customer and admin surfaces.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderRepository persists order headers, lines, and payment records as one
// atomic unit and serialises concurrent mutations per order.
type OrderRepository interface {
	// Create atomically persists the order with its items and payment record.
	// The order number must be unique; implementations reject collisions with
	// a conflict error so callers can regenerate and retry. When the order's
	// idempotency key was already recorded, the original order is returned
	// with Replayed set and nothing new is written.
	Create(ctx context.Context, req OrderCreateRequest) (OrderCreateResult, error)

	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// Mutate applies fn to the current order state inside a transaction and
	// persists the result. Concurrent mutations of the same order are
	// serialised; losers are retried or surfaced as conflict errors. fn may
	// be invoked more than once and must be free of side effects.
	Mutate(ctx context.Context, orderID string, fn func(order domain.Order) (domain.Order, error)) (domain.Order, error)

	// ListStalePayments returns orders whose gateway payment has been sitting
	// in processing since before cutoff. Used by the expiry sweeper.
	ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)

	// Analytics aggregates a customer's order history.
	Analytics(ctx context.Context, customerID string) (domain.OrderAnalytics, error)
}

// CartRepository stores per-session shopping carts.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, cartID string) error
}

// CatalogFilter narrows product listings.
type CatalogFilter struct {
	Category    *string
	InStockOnly bool
	Pagination  domain.Pagination
}

// CatalogRepository exposes the sellable product catalog.
type CatalogRepository interface {
	ListProducts(ctx context.Context, filter CatalogFilter) (domain.CursorPage[domain.CatalogProduct], error)
	GetProduct(ctx context.Context, productID string) (domain.CatalogProduct, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
