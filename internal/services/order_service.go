package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/payments"
	"github.com/nellai-market/api/internal/repositories"
)

const (
	orderIDPrefix   = "ord_"
	orderItemPrefix = "itm_"
	paymentIDPrefix = "pay_"

	defaultOrderNumberPrefix  = "NSM"
	defaultOrderCreateRetries = 3
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent writes or duplicate submissions.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRefundFailed indicates the gateway refund could not be completed.
	ErrOrderRefundFailed = errors.New("order: refund failed")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// orderRefunder abstracts payments.Manager for cancellation refunds.
type orderRefunder interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Refunds       orderRefunder
	Events        OrderEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	NumberPrefix  string
	CreateRetries int
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	refunds       orderRefunder
	events        OrderEventPublisher
	clock         func() time.Time
	newID         func() string
	numberPrefix  string
	createRetries int
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	prefix := strings.TrimSpace(deps.NumberPrefix)
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}

	retries := deps.CreateRetries
	if retries <= 0 {
		retries = defaultOrderCreateRetries
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:  deps.Orders,
		refunds: deps.Refunds,
		events:  deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		numberPrefix:  prefix,
		createRetries: retries,
		logger:        logger,
	}, nil
}

// PlaceOrder persists a new pending order with its lines and initial payment
// record. Duplicate idempotency keys replay the original order; colliding
// order numbers are regenerated and retried.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return PlaceOrderResult{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.IsValid() {
		return PlaceOrderResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if cmd.Pricing.Total <= 0 {
		return PlaceOrderResult{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	items := make([]OrderItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			return PlaceOrderResult{}, fmt.Errorf("%w: item %s has invalid quantity or price", ErrOrderInvalidInput, item.ProductID)
		}
		line := item
		line.ID = orderItemPrefix + s.newID()
		line.OrderID = orderID
		line.Subtotal = line.UnitPrice * int64(line.Quantity)
		items = append(items, line)
	}

	order := Order{
		ID:             orderID,
		CustomerID:     customerID,
		Status:         domain.OrderStatusPending,
		TotalAmount:    cmd.Pricing.Total,
		DeliveryFee:    cmd.Pricing.DeliveryFee,
		Address:        cmd.Address,
		PaymentMethod:  cmd.PaymentMethod,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Items:          items,
		Payment: &Payment{
			ID:      paymentIDPrefix + s.newID(),
			OrderID: orderID,
			Method:  cmd.PaymentMethod,
			Status:  initialPaymentStatus(cmd.PaymentMethod),
			Amount:  cmd.Pricing.Total,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var result repositories.OrderCreateResult
	var err error
	for attempt := 0; attempt < s.createRetries; attempt++ {
		order.OrderNumber = s.generateOrderNumber(now)
		result, err = s.orders.Create(ctx, repositories.OrderCreateRequest{Order: order, Now: now})
		if err == nil {
			break
		}
		if !isRepoConflict(err) {
			return PlaceOrderResult{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": order.OrderNumber,
			"attempt":     attempt + 1,
		})
	}
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: order number allocation exhausted", ErrOrderConflict)
	}

	if !result.Replayed {
		s.publishEvent(ctx, "order.created", result.Order)
	}

	return PlaceOrderResult{Order: result.Order, Replayed: result.Replayed}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// TransitionStatus advances the fulfilment lifecycle. Cancellation goes
// through Cancel so refunds are handled.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{OrderID: orderID, Reason: cmd.Reason})
	}

	now := s.clock()
	updated, err := s.orders.Mutate(ctx, orderID, func(order Order) (Order, error) {
		if order.Status == target {
			return order, nil
		}
		if !canTransition(order.Status, target) {
			return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
		}
		order.Status = target
		stampStatusTimestamp(&order, target, now)
		return order, nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, "order."+string(target), updated)
	return updated, nil
}

// Cancel moves the order to cancelled from any non-terminal status. A
// completed gateway payment is refunded before the cancellation is recorded;
// cash on delivery never triggers a refund.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status.IsTerminal() {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	refunded := false
	if needsRefund(order) {
		if s.refunds == nil {
			return Order{}, fmt.Errorf("%w: refund gateway not configured", ErrOrderRefundFailed)
		}
		if order.Payment.TransactionID == nil || strings.TrimSpace(*order.Payment.TransactionID) == "" {
			return Order{}, fmt.Errorf("%w: completed payment has no transaction reference", ErrOrderRefundFailed)
		}
		_, err := s.refunds.Refund(ctx, payments.PaymentContext{Method: string(order.PaymentMethod)}, payments.RefundRequest{
			IntentID:       *order.Payment.TransactionID,
			Reason:         "requested_by_customer",
			IdempotencyKey: "refund-" + order.ID,
			Metadata: map[string]string{
				"orderId":     order.ID,
				"orderNumber": order.OrderNumber,
			},
		})
		if err != nil {
			s.logger(ctx, "order.refund.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return Order{}, fmt.Errorf("%w: %v", ErrOrderRefundFailed, err)
		}
		refunded = true
	}

	now := s.clock()
	updated, err := s.orders.Mutate(ctx, orderID, func(order Order) (Order, error) {
		if order.Status == domain.OrderStatusCancelled {
			return order, nil
		}
		if order.Status.IsTerminal() {
			return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		if reason != "" {
			order.CancelReason = &reason
		}
		if refunded && order.Payment != nil {
			completed := now
			order.Payment.Status = domain.PaymentStatusRefunded
			order.Payment.CompletedAt = &completed
		}
		return order, nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, "order.cancelled", updated)
	return updated, nil
}

func (s *orderService) Analytics(ctx context.Context, customerID string) (OrderAnalytics, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return OrderAnalytics{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	analytics, err := s.orders.Analytics(ctx, customerID)
	if err != nil {
		return OrderAnalytics{}, s.mapRepositoryError(err)
	}
	return analytics, nil
}

// initialPaymentStatus places cash on delivery payments in pending until
// handover; gateway payments start in processing so the expiry sweeper sees
// them even when the checkout session never opens.
func initialPaymentStatus(method domain.PaymentMethod) domain.PaymentStatus {
	if method.IsGatewayRouted() {
		return domain.PaymentStatusProcessing
	}
	return domain.PaymentStatusPending
}

// generateOrderNumber derives a human-readable number from the clock plus a
// random suffix. Uniqueness is enforced by the ledger; collisions retry.
func (s *orderService) generateOrderNumber(now time.Time) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("%s%06d%s", s.numberPrefix, now.UnixMilli()%1_000_000, suffix)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, event string, order Order) {
	if s.events == nil {
		return
	}
	message := OrderEventMessage{
		Event:       event,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		OccurredAt:  s.clock(),
	}
	if order.Payment != nil {
		message.PaymentStatus = string(order.Payment.Status)
	}
	if err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"event":   event,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func stampStatusTimestamp(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func needsRefund(order Order) bool {
	if order.Payment == nil {
		return false
	}
	if !order.PaymentMethod.IsGatewayRouted() {
		return false
	}
	return order.Payment.Status == domain.PaymentStatusCompleted
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
