package memory

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

// OrderRepository keeps orders in process memory. All writes run under one
// mutex, which gives the same serialisation guarantees the Firestore backend
// gets from document transactions: order creation with its number and
// idempotency reservations is atomic, and concurrent mutations of the same
// order never interleave.
type OrderRepository struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	numbers map[string]string
	keys    map[string]string
}

// NewOrderRepository constructs an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]domain.Order),
		numbers: make(map[string]string),
		keys:    make(map[string]string),
	}
}

// Create atomically persists the order with its reservations. A colliding
// order number surfaces as a conflict error; a previously recorded
// idempotency key replays the original order without new writes.
func (r *OrderRepository) Create(_ context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return repositories.OrderCreateResult{}, errors.New("order repository: order number is required")
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if key := strings.TrimSpace(order.IdempotencyKey); key != "" {
		if existingID, ok := r.keys[orderKeyID(order.CustomerID, key)]; ok {
			existing, found := r.orders[existingID]
			if !found {
				return repositories.OrderCreateResult{}, notFoundError("orders.create", "replayed order missing")
			}
			return repositories.OrderCreateResult{Order: cloneOrder(existing), Replayed: true}, nil
		}
	}

	if _, taken := r.numbers[order.OrderNumber]; taken {
		return repositories.OrderCreateResult{}, conflictError("orders.create", "order number already reserved")
	}

	stored := cloneOrder(order)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Payment != nil {
		if stored.Payment.CreatedAt.IsZero() {
			stored.Payment.CreatedAt = now
		}
		stored.Payment.UpdatedAt = now
	}

	r.orders[stored.ID] = stored
	r.numbers[stored.OrderNumber] = stored.ID
	if key := strings.TrimSpace(order.IdempotencyKey); key != "" {
		r.keys[orderKeyID(order.CustomerID, key)] = stored.ID
	}

	return repositories.OrderCreateResult{Order: cloneOrder(stored)}, nil
}

// FindByID fetches a single order with its lines and payment record.
func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError("orders.find_by_id", "order not found")
	}
	return cloneOrder(order), nil
}

// FindByNumber resolves an order through its number reservation.
func (r *OrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orderID, ok := r.numbers[orderNumber]
	if !ok {
		return domain.Order{}, notFoundError("orders.find_by_number", "order not found")
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError("orders.find_by_number", "order not found")
	}
	return cloneOrder(order), nil
}

// List returns orders matching the filter ordered by newest first.
func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	customerID := strings.TrimSpace(filter.CustomerID)

	statusSet := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, s := range filter.Status {
		trimmed := domain.OrderStatus(strings.TrimSpace(string(s)))
		if trimmed != "" {
			statusSet[trimmed] = struct{}{}
		}
	}

	r.mu.Lock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if customerID != "" && order.CustomerID != customerID {
			continue
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[order.Status]; !ok {
				continue
			}
		}
		if filter.DateRange.From != nil && !filter.DateRange.From.IsZero() && order.CreatedAt.Before(filter.DateRange.From.UTC()) {
			continue
		}
		if filter.DateRange.To != nil && !filter.DateRange.To.IsZero() && !order.CreatedAt.Before(filter.DateRange.To.UTC()) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		start := 0
		for i, order := range matched {
			if order.CreatedAt.Equal(tokenTime) && order.ID == tokenID {
				start = i + 1
				break
			}
			if order.CreatedAt.Before(tokenTime) {
				start = i
				break
			}
			start = i + 1
		}
		matched = matched[start:]
	}

	limit := filter.Pagination.PageSize
	nextToken := ""
	if limit > 0 && len(matched) > limit {
		last := matched[limit-1]
		nextToken = encodeOrderListToken(last.CreatedAt, last.ID)
		matched = matched[:limit]
	}

	return domain.CursorPage[domain.Order]{
		Items:         matched,
		NextPageToken: nextToken,
	}, nil
}

// Mutate applies fn to the current order state and persists the result.
// The repository mutex serialises concurrent mutations of the same order.
func (r *OrderRepository) Mutate(_ context.Context, orderID string, fn func(order domain.Order) (domain.Order, error)) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutation function is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError("orders.mutate", "order not found")
	}

	next, err := fn(cloneOrder(current))
	if err != nil {
		return domain.Order{}, err
	}
	next.ID = orderID

	now := time.Now().UTC()
	stored := cloneOrder(next)
	stored.UpdatedAt = now
	if stored.Payment != nil {
		stored.Payment.UpdatedAt = now
	}
	r.orders[orderID] = stored

	return cloneOrder(stored), nil
}

// ListStalePayments returns orders whose gateway payment has sat in
// processing since before cutoff, oldest first.
func (r *OrderRepository) ListStalePayments(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if cutoff.IsZero() {
		return nil, errors.New("order repository: cutoff is required")
	}
	cutoff = cutoff.UTC()

	r.mu.Lock()
	stale := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.Payment == nil || order.Payment.Status != domain.PaymentStatusProcessing {
			continue
		}
		if !order.Payment.UpdatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, cloneOrder(order))
	}
	r.mu.Unlock()

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].Payment.UpdatedAt.Before(stale[j].Payment.UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Analytics aggregates a customer's order history.
func (r *OrderRepository) Analytics(_ context.Context, customerID string) (domain.OrderAnalytics, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.OrderAnalytics{}, errors.New("order repository: customer id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	analytics := domain.OrderAnalytics{
		StatusCounts: make(map[domain.OrderStatus]int),
	}
	for _, order := range r.orders {
		if order.CustomerID != customerID {
			continue
		}
		analytics.TotalOrders++
		analytics.StatusCounts[order.Status]++
		if order.Status == domain.OrderStatusCancelled {
			analytics.CancelledOrders++
			continue
		}
		analytics.TotalSpent += order.TotalAmount
	}
	return analytics, nil
}

func orderKeyID(customerID, key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(customerID) + "|" + strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])[:32]
}

func encodeOrderListToken(createdAt time.Time, orderID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), orderID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func cloneOrder(order domain.Order) domain.Order {
	cloned := order

	if len(order.Items) > 0 {
		cloned.Items = make([]domain.OrderItem, len(order.Items))
		copy(cloned.Items, order.Items)
	}

	cloned.ConfirmedAt = cloneTimePtr(order.ConfirmedAt)
	cloned.ShippedAt = cloneTimePtr(order.ShippedAt)
	cloned.DeliveredAt = cloneTimePtr(order.DeliveredAt)
	cloned.CancelledAt = cloneTimePtr(order.CancelledAt)
	cloned.CancelReason = cloneStringPtr(order.CancelReason)

	if order.Payment != nil {
		payment := *order.Payment
		payment.TransactionID = cloneStringPtr(order.Payment.TransactionID)
		payment.CompletedAt = cloneTimePtr(order.Payment.CompletedAt)
		if len(order.Payment.GatewayResponse) > 0 {
			payment.GatewayResponse = make(map[string]any, len(order.Payment.GatewayResponse))
			for k, v := range order.Payment.GatewayResponse {
				payment.GatewayResponse[k] = v
			}
		}
		cloned.Payment = &payment
	}

	return cloned
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
