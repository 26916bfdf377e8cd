package services

import (
	"context"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Cart                 = domain.Cart
	CartLine             = domain.CartLine
	CatalogProduct       = domain.CatalogProduct
	Customer             = domain.Customer
	DeliveryAddress      = domain.DeliveryAddress
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	OrderAnalytics       = domain.OrderAnalytics
	Payment              = domain.Payment
	PaymentMethod        = domain.PaymentMethod
	PaymentStatus        = domain.PaymentStatus
	PricingBreakdown     = domain.PricingBreakdown
	ItemPricingBreakdown = domain.ItemPricingBreakdown
	CheckoutSession      = domain.CheckoutSession
	SystemHealthReport   = domain.SystemHealthReport
)

// CartService manages mutable per-session carts backed by the catalog.
type CartService interface {
	// GetCart returns the cart for a session, or an empty cart when none exists.
	GetCart(ctx context.Context, cartID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	// UpdateItemQuantity sets the line quantity; zero removes the line.
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, cartID string) error
}

// CatalogService exposes the sellable grocery catalog to storefront surfaces.
type CatalogService interface {
	ListProducts(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[CatalogProduct], error)
	GetProduct(ctx context.Context, productID string) (CatalogProduct, error)
}

// CustomerService manages guest-checkout customer identities keyed by email.
type CustomerService interface {
	UpsertFromCheckout(ctx context.Context, cmd UpsertCustomerCommand) (Customer, error)
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
	GetByEmail(ctx context.Context, email string) (Customer, error)
}

// PricingEngine computes order totals in whole rupees, including the
// delivery fee policy.
type PricingEngine interface {
	PriceCart(ctx context.Context, cart Cart) (PricingBreakdown, error)
	DeliveryFee(subtotal int64) int64
}

// OrderService encapsulates the order ledger: placement, reads, status
// transitions, cancellation, and per-customer analytics.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Analytics(ctx context.Context, customerID string) (OrderAnalytics, error)
}

// CheckoutService orchestrates checkout submission: validation, customer
// upsert, pricing, durable order placement, and gateway session creation.
type CheckoutService interface {
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutResult, error)
}

// PaymentService reconciles gateway payment outcomes against the order
// ledger and expires stale gateway sessions.
type PaymentService interface {
	HandleWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
	OnPaymentSuccess(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error)
	OnPaymentFailure(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error)
	OnUserCancel(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error)
	// ExpireStalePayments fails gateway payments stuck in processing longer
	// than the session TTL and reports how many were swept.
	ExpireStalePayments(ctx context.Context) (int, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventMessage is the payload published for order lifecycle events.
type OrderEventMessage struct {
	Event         string    `json:"event"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	CustomerID    string    `json:"customerId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) error
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	CartID    string
	ProductID string
	Quantity  int
}

type UpdateCartItemCommand struct {
	CartID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	CartID    string
	ProductID string
}

type CatalogListFilter struct {
	Category    *string
	InStockOnly bool
	Pagination  Pagination
}

type UpsertCustomerCommand struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

type OrderListFilter = repositories.OrderListFilter

// PlaceOrderCommand carries the priced, validated inputs the ledger persists
// atomically. Items and totals are taken as computed by the pricing engine.
type PlaceOrderCommand struct {
	CustomerID     string
	Items          []OrderItem
	Address        DeliveryAddress
	PaymentMethod  PaymentMethod
	Pricing        PricingBreakdown
	IdempotencyKey string
}

// PlaceOrderResult reports the stored order and whether the placement was a
// replay of a previously recorded idempotency key.
type PlaceOrderResult struct {
	Order    Order
	Replayed bool
}

type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Reason       string
}

type CancelOrderCommand struct {
	OrderID string
	Reason  string
}

// CustomerDetails carries the checkout form identity fields.
type CustomerDetails struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

type SubmitCheckoutCommand struct {
	CartID         string
	Customer       CustomerDetails
	Address        DeliveryAddress
	PaymentMethod  PaymentMethod
	IdempotencyKey string
}

// CheckoutResult is the terminal outcome of a checkout submission. Session
// is set only for gateway-routed payment methods.
type CheckoutResult struct {
	Order    Order
	Customer Customer
	Session  *CheckoutSession
	Replayed bool
}

type PaymentWebhookCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

type PaymentOutcomeCommand struct {
	OrderID        string
	TransactionID  string
	GatewayPayload map[string]any
}
