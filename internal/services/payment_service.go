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

const (
	defaultPaymentSessionTTL = 30 * time.Minute
	defaultPaymentSweepLimit = 100
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentOrderNotFound indicates the referenced order does not exist.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
	// ErrPaymentInvalidState indicates the payment cannot accept the outcome.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentWebhookRejected indicates the notification failed verification.
	ErrPaymentWebhookRejected = errors.New("payment: webhook rejected")
)

// webhookParser is the slice of payments.Manager the reconciler needs.
type webhookParser interface {
	ParseWebhookEvent(ctx context.Context, providerKey string, payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment
// reconciler.
type PaymentServiceDeps struct {
	Ledger     repositories.OrderRepository
	Gateways   webhookParser
	Events     OrderEventPublisher
	SessionTTL time.Duration
	SweepLimit int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	ledger     repositories.OrderRepository
	gateways   webhookParser
	events     OrderEventPublisher
	sessionTTL time.Duration
	sweepLimit int
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("payment service: order repository is required")
	}

	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultPaymentSessionTTL
	}

	sweepLimit := deps.SweepLimit
	if sweepLimit <= 0 {
		sweepLimit = defaultPaymentSweepLimit
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		ledger:     deps.Ledger,
		gateways:   deps.Gateways,
		events:     deps.Events,
		sessionTTL: ttl,
		sweepLimit: sweepLimit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleWebhookEvent verifies and dispatches a gateway notification. Events
// the storefront does not care about are acknowledged without effect.
func (s *paymentService) HandleWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	if s.gateways == nil {
		return fmt.Errorf("%w: no payment gateways configured", ErrPaymentInvalidInput)
	}
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrPaymentInvalidInput)
	}

	event, err := s.gateways.ParseWebhookEvent(ctx, cmd.Provider, cmd.Payload, cmd.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentWebhookRejected, err)
	}

	if event.Type == payments.EventIgnored {
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"provider": event.Provider,
		})
		return nil
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return fmt.Errorf("%w: event carries no order reference", ErrPaymentInvalidInput)
	}

	outcome := PaymentOutcomeCommand{
		OrderID:        event.OrderID,
		TransactionID:  event.TransactionID,
		GatewayPayload: webhookPayload(event),
	}

	switch event.Type {
	case payments.EventPaymentSucceeded:
		_, err = s.OnPaymentSuccess(ctx, outcome)
	case payments.EventPaymentFailed:
		outcome.GatewayPayload["reason"] = "gateway_declined"
		_, err = s.OnPaymentFailure(ctx, outcome)
	case payments.EventSessionExpired:
		outcome.GatewayPayload["reason"] = "session_expired"
		_, err = s.OnPaymentFailure(ctx, outcome)
	default:
		s.logger(ctx, "payment.webhook.unhandled", map[string]any{
			"provider": event.Provider,
			"type":     string(event.Type),
		})
		return nil
	}
	return err
}

// OnPaymentSuccess marks the payment completed and confirms a pending order.
// Replayed notifications for an already completed payment are no-ops.
func (s *paymentService) OnPaymentSuccess(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	now := s.clock()
	changed := false
	updated, err := s.ledger.Mutate(ctx, orderID, func(order Order) (Order, error) {
		changed = false
		if order.Payment == nil {
			return Order{}, fmt.Errorf("%w: order %s has no payment record", ErrPaymentInvalidState, orderID)
		}
		if order.Payment.Status == domain.PaymentStatusCompleted {
			return order, nil
		}
		if order.Payment.Status == domain.PaymentStatusRefunded {
			return Order{}, fmt.Errorf("%w: payment already refunded", ErrPaymentInvalidState)
		}

		completed := now
		order.Payment.Status = domain.PaymentStatusCompleted
		order.Payment.CompletedAt = &completed
		if txn := strings.TrimSpace(cmd.TransactionID); txn != "" {
			order.Payment.TransactionID = &txn
		}
		order.Payment.GatewayResponse = mergePayload(order.Payment.GatewayResponse, cmd.GatewayPayload)

		if order.Status == domain.OrderStatusPending {
			order.Status = domain.OrderStatusConfirmed
			order.ConfirmedAt = &now
		}
		changed = true
		return order, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentInvalidState) {
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if changed {
		s.publishEvent(ctx, "order.confirmed", updated)
	}
	return updated, nil
}

// OnPaymentFailure marks the payment failed. The order stays pending so the
// shopper can retry; settled payments are never downgraded.
func (s *paymentService) OnPaymentFailure(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	changed := false
	updated, err := s.ledger.Mutate(ctx, orderID, func(order Order) (Order, error) {
		changed = false
		if order.Payment == nil {
			return Order{}, fmt.Errorf("%w: order %s has no payment record", ErrPaymentInvalidState, orderID)
		}
		switch order.Payment.Status {
		case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded, domain.PaymentStatusFailed:
			return order, nil
		}

		order.Payment.Status = domain.PaymentStatusFailed
		if txn := strings.TrimSpace(cmd.TransactionID); txn != "" {
			order.Payment.TransactionID = &txn
		}
		order.Payment.GatewayResponse = mergePayload(order.Payment.GatewayResponse, cmd.GatewayPayload)
		changed = true
		return order, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentInvalidState) {
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if changed {
		s.publishEvent(ctx, "payment.failed", updated)
	}
	return updated, nil
}

// OnUserCancel records that the shopper dismissed the gateway flow. This is
// a notice, not an outcome: neither the payment nor the order changes, so a
// later checkout replay can pick the session back up.
func (s *paymentService) OnUserCancel(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.ledger.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Payment == nil {
		return Order{}, fmt.Errorf("%w: order %s has no payment record", ErrPaymentInvalidState, orderID)
	}

	s.logger(ctx, "payment.user.cancelled", map[string]any{
		"orderId":       order.ID,
		"paymentStatus": string(order.Payment.Status),
	})
	return order, nil
}

// ExpireStalePayments sweeps gateway payments stuck in processing beyond the
// session TTL and fails them. Individual failures are logged and skipped so
// one bad order cannot stall the sweep.
func (s *paymentService) ExpireStalePayments(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.sessionTTL)
	stale, err := s.ledger.ListStalePayments(ctx, cutoff, s.sweepLimit)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	expired := 0
	for _, order := range stale {
		_, err := s.OnPaymentFailure(ctx, PaymentOutcomeCommand{
			OrderID:        order.ID,
			GatewayPayload: map[string]any{"reason": "session_timeout"},
		})
		if err != nil {
			s.logger(ctx, "payment.sweep.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger(ctx, "payment.sweep.completed", map[string]any{
			"expired": expired,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
	}
	return expired, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *paymentService) publishEvent(ctx context.Context, event string, order Order) {
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
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"event":   event,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func webhookPayload(event payments.WebhookEvent) map[string]any {
	payload := map[string]any{
		"provider": event.Provider,
	}
	if event.SessionID != "" {
		payload["sessionId"] = event.SessionID
	}
	if event.IntentID != "" {
		payload["intentId"] = event.IntentID
	}
	return payload
}

func mergePayload(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
