package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/payments"
	"github.com/nellai-market/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput signals the submission failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the cart has no purchasable lines.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutSessionFailed indicates the gateway session could not be
	// created; the order remains pending and the submission can be retried.
	ErrCheckoutSessionFailed = errors.New("checkout: payment session failed")
)

// checkoutSessionManager is the slice of payments.Manager the orchestrator
// needs, kept narrow for testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps bundles collaborators required to construct the
// checkout service. Sessions may be nil when only cash on delivery is
// offered.
type CheckoutServiceDeps struct {
	Carts      CartService
	Pricing    PricingEngine
	Customers  CustomerService
	Orders     OrderService
	Ledger     repositories.OrderRepository
	Sessions   checkoutSessionManager
	Currency   string
	SuccessURL string
	CancelURL  string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts      CartService
	pricing    PricingEngine
	customers  CustomerService
	orders     OrderService
	ledger     repositories.OrderRepository
	sessions   checkoutSessionManager
	currency   string
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("checkout service: customer service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("checkout service: order repository is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:      deps.Carts,
		pricing:    deps.Pricing,
		customers:  deps.Customers,
		orders:     deps.Orders,
		ledger:     deps.Ledger,
		sessions:   deps.Sessions,
		currency:   currency,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Submit runs the full checkout: validation, pricing, customer upsert,
// durable order placement, then either cash-on-delivery confirmation or a
// gateway checkout session. Replays of an idempotency key return the
// original order; a replay with an unsettled gateway payment regenerates
// the session so the shopper can resume paying.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutResult, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: cart id is required", ErrCheckoutInvalidInput)
	}
	if !cmd.PaymentMethod.IsValid() {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if err := validateDeliveryAddress(cmd.Address); err != nil {
		return CheckoutResult{}, err
	}
	if cmd.PaymentMethod.IsGatewayRouted() && s.sessions == nil {
		return CheckoutResult{}, fmt.Errorf("%w: online payments are not configured", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if cart.IsEmpty() {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	pricing, err := s.pricing.PriceCart(ctx, cart)
	if err != nil {
		return CheckoutResult{}, err
	}

	customer, err := s.customers.UpsertFromCheckout(ctx, UpsertCustomerCommand{
		Email:     cmd.Customer.Email,
		FirstName: cmd.Customer.FirstName,
		LastName:  cmd.Customer.LastName,
		Phone:     cmd.Customer.Phone,
	})
	if err != nil {
		if errors.Is(err, ErrCustomerInvalidInput) {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return CheckoutResult{}, err
	}

	items := make([]OrderItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}

	placed, err := s.orders.PlaceOrder(ctx, PlaceOrderCommand{
		CustomerID:     customer.ID,
		Items:          items,
		Address:        cmd.Address,
		PaymentMethod:  cmd.PaymentMethod,
		Pricing:        pricing,
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidInput) {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return CheckoutResult{}, err
	}

	order := placed.Order
	if placed.Replayed {
		return s.resumeReplayedOrder(ctx, customer, order)
	}

	result := CheckoutResult{Customer: customer}

	if cmd.PaymentMethod == domain.PaymentMethodCOD {
		confirmed, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:      order.ID,
			TargetStatus: domain.OrderStatusConfirmed,
		})
		if err != nil {
			return CheckoutResult{}, err
		}
		result.Order = confirmed
	} else {
		session, err := s.openGatewaySession(ctx, customer, order)
		if err != nil {
			return CheckoutResult{}, err
		}
		updated, err := s.attachSessionToOrder(ctx, order.ID, session)
		if err != nil {
			return CheckoutResult{}, err
		}
		result.Order = updated
		result.Session = toDomainSession(session)
	}

	if err := s.carts.ClearCart(ctx, cartID); err != nil {
		s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
			"cartId":  cartID,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	return result, nil
}

// resumeReplayedOrder handles a duplicate submission: settled orders are
// returned as-is, unsettled gateway payments get a fresh session under the
// same provider idempotency key so the gateway deduplicates. A failed
// payment re-enters processing here, which is how a shopper retries after a
// decline or an expired session.
func (s *checkoutService) resumeReplayedOrder(ctx context.Context, customer Customer, order Order) (CheckoutResult, error) {
	result := CheckoutResult{Order: order, Customer: customer, Replayed: true}

	if !order.PaymentMethod.IsGatewayRouted() || order.Payment == nil {
		return result, nil
	}
	switch order.Payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusProcessing, domain.PaymentStatusFailed:
	default:
		return result, nil
	}

	session, err := s.openGatewaySession(ctx, customer, order)
	if err != nil {
		return CheckoutResult{}, err
	}
	updated, err := s.attachSessionToOrder(ctx, order.ID, session)
	if err != nil {
		return CheckoutResult{}, err
	}
	result.Order = updated
	result.Session = toDomainSession(session)
	return result, nil
}

func (s *checkoutService) openGatewaySession(ctx context.Context, customer Customer, order Order) (payments.CheckoutSession, error) {
	lines := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, payments.CheckoutLineItem{
			Name:     item.ProductName,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: s.currency,
		})
	}
	if order.DeliveryFee > 0 {
		lines = append(lines, payments.CheckoutLineItem{
			Name:     "Delivery",
			Quantity: 1,
			Amount:   order.DeliveryFee,
			Currency: s.currency,
		})
	}

	session, err := s.sessions.CreateCheckoutSession(ctx, payments.PaymentContext{
		Method: string(order.PaymentMethod),
	}, payments.CheckoutSessionRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Amount:        order.TotalAmount,
		Currency:      s.currency,
		CustomerEmail: customer.Email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata: map[string]string{
			"customerId": customer.ID,
		},
		IdempotencyKey: "checkout-" + order.ID,
		Items:          lines,
		MethodTypes:    []string{string(order.PaymentMethod)},
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"orderId": order.ID,
			"method":  string(order.PaymentMethod),
			"error":   err.Error(),
		})
		return payments.CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutSessionFailed, err)
	}
	return session, nil
}

// attachSessionToOrder records the gateway session on the payment and moves
// it to processing so the reconciler can sweep it if the shopper walks away.
func (s *checkoutService) attachSessionToOrder(ctx context.Context, orderID string, session payments.CheckoutSession) (Order, error) {
	return s.ledger.Mutate(ctx, orderID, func(order Order) (Order, error) {
		if order.Payment == nil {
			return Order{}, fmt.Errorf("%w: order %s has no payment record", ErrCheckoutInvalidInput, orderID)
		}
		order.Payment.Status = domain.PaymentStatusProcessing
		if session.IntentID != "" {
			intentID := session.IntentID
			order.Payment.TransactionID = &intentID
		}
		response := map[string]any{
			"sessionId": session.ID,
			"provider":  session.Provider,
		}
		if !session.ExpiresAt.IsZero() {
			response["expiresAt"] = session.ExpiresAt.UTC().Format(time.RFC3339)
		}
		order.Payment.GatewayResponse = response
		return order, nil
	})
}

func toDomainSession(session payments.CheckoutSession) *CheckoutSession {
	return &CheckoutSession{
		SessionID:    session.ID,
		PSP:          session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt,
	}
}

func validateDeliveryAddress(address DeliveryAddress) error {
	required := []struct {
		field string
		value string
	}{
		{"first name", address.FirstName},
		{"last name", address.LastName},
		{"address", address.Address},
		{"city", address.City},
		{"zip code", address.ZipCode},
		{"phone", address.Phone},
	}
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			return fmt.Errorf("%w: delivery %s is required", ErrCheckoutInvalidInput, item.field)
		}
	}
	return nil
}
