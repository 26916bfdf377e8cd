package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is recorded but not yet confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order has been accepted for fulfillment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates items are being picked and packed.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipped indicates the order has left for delivery.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentMethod enumerates how a customer settles an order.
type PaymentMethod string

const (
	// PaymentMethodCard settles through the card gateway.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodUPI settles through a UPI gateway flow.
	PaymentMethodUPI PaymentMethod = "upi"
	// PaymentMethodCOD settles in cash at the door.
	PaymentMethodCOD PaymentMethod = "cod"
)

// IsGatewayRouted reports whether the method settles through the external
// payment gateway. Cash on delivery settles offline.
func (m PaymentMethod) IsGatewayRouted() bool {
	return m == PaymentMethodCard || m == PaymentMethodUPI
}

// IsValid reports whether m is a supported payment method.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodUPI, PaymentMethodCOD:
		return true
	}
	return false
}

// PaymentStatus enumerates settlement states for a payment record.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no settlement attempt has started.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing indicates the gateway is handling the charge.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusCompleted indicates funds were captured.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the charge was declined or abandoned.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates captured funds were returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Customer is the storefront account record keyed by email identity.
type Customer struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail lowercases and trims an email address for identity
// comparison. Stored emails keep the caller's casing from the latest write.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeliveryAddress is the shipping destination captured at checkout and
// denormalized onto the order header.
type DeliveryAddress struct {
	FirstName string
	LastName  string
	Address   string
	City      string
	ZipCode   string
	Phone     string
}

// Order captures the durable order header returned to handlers/services.
// Monetary amounts are whole rupees.
type Order struct {
	ID             string
	CustomerID     string
	OrderNumber    string
	Status         OrderStatus
	TotalAmount    int64
	DeliveryFee    int64
	Address        DeliveryAddress
	PaymentMethod  PaymentMethod
	IdempotencyKey string
	Items          []OrderItem
	Payment        *Payment
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	CancelReason   *string
}

// Subtotal returns the goods total excluding the delivery fee.
func (o *Order) Subtotal() int64 {
	return o.TotalAmount - o.DeliveryFee
}

// OrderItem is a priced line frozen at order creation. UnitPrice is a
// snapshot; later catalog changes do not affect placed orders.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
	Subtotal    int64
}

// Payment is the settlement record attached to an order. GatewayResponse
// stores provider payloads verbatim for audit.
type Payment struct {
	ID              string
	OrderID         string
	Method          PaymentMethod
	Status          PaymentStatus
	Amount          int64
	TransactionID   *string
	GatewayResponse map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// CheckoutSession represents PSP checkout session metadata returned when an
// order routes through the gateway.
type CheckoutSession struct {
	SessionID    string
	PSP          string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

// CartLine stores a single product entry within a cart.
type CartLine struct {
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
	AddedAt     time.Time
}

// Cart aggregates the mutable shopping cart state for a session. Lines
// preserve insertion order and are unique per product.
type Cart struct {
	ID        string
	Lines     []CartLine
	UpdatedAt time.Time
}

// TotalItems returns the sum of quantities across all lines.
func (c *Cart) TotalItems() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

// Subtotal returns the goods total across all lines, excluding delivery.
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.UnitPrice * int64(l.Quantity)
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// CatalogProduct represents public-facing product information.
type CatalogProduct struct {
	ID        string
	Name      string
	Category  string
	UnitPrice int64
	Unit      string
	ImageURL  string
	InStock   bool
}

// OrderAnalytics summarizes a customer's order history for account surfaces.
type OrderAnalytics struct {
	TotalOrders     int
	TotalSpent      int64
	CancelledOrders int
	StatusCounts    map[OrderStatus]int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
