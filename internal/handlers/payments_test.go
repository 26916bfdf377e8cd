package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/services"
)

type stubPaymentService struct {
	webhookFn func(context.Context, services.PaymentWebhookCommand) error
	successFn func(context.Context, services.PaymentOutcomeCommand) (services.Order, error)
	failureFn func(context.Context, services.PaymentOutcomeCommand) (services.Order, error)
	cancelFn  func(context.Context, services.PaymentOutcomeCommand) (services.Order, error)
	expireFn  func(context.Context) (int, error)
}

func (s *stubPaymentService) HandleWebhookEvent(ctx context.Context, cmd services.PaymentWebhookCommand) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubPaymentService) OnPaymentSuccess(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
	if s.successFn != nil {
		return s.successFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) OnPaymentFailure(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
	if s.failureFn != nil {
		return s.failureFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) OnUserCancel(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) ExpireStalePayments(ctx context.Context) (int, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx)
	}
	return 0, errors.New("not implemented")
}

func newPaymentRouter(service services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(service)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.WebhookRoutes)
	router.Route("/orders", handler.OrderRoutes)
	router.Route("/internal", handler.InternalRoutes)
	return router
}

func TestPaymentHandlersWebhookAck(t *testing.T) {
	var captured services.PaymentWebhookCommand
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			captured = cmd
			return nil
		},
	}

	router := newPaymentRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Provider != "stripe" {
		t.Fatalf("unexpected provider %q", captured.Provider)
	}
	if captured.Signature != "t=1,v1=abc" {
		t.Fatalf("unexpected signature %q", captured.Signature)
	}
	if string(captured.Payload) != `{"id":"evt_1"}` {
		t.Fatalf("unexpected payload %q", captured.Payload)
	}

	var resp webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Received {
		t.Fatalf("expected received ack")
	}
}

func TestPaymentHandlersWebhookRejectedSignature(t *testing.T) {
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return services.ErrPaymentWebhookRejected
		},
	}

	router := newPaymentRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersWebhookOrderNotFound(t *testing.T) {
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return services.ErrPaymentOrderNotFound
		},
	}

	router := newPaymentRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPaymentHandlersUserCancel(t *testing.T) {
	var captured services.PaymentOutcomeCommand
	service := &stubPaymentService{
		cancelFn: func(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPending
			return order, nil
		},
	}

	router := newPaymentRouter(service)
	body := bytes.NewBufferString(`{"reason":"slow page"}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/payment/cancel", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-1" {
		t.Fatalf("unexpected order id %q", captured.OrderID)
	}
	if captured.GatewayPayload["cancelReason"] != "slow page" {
		t.Fatalf("unexpected payload %#v", captured.GatewayPayload)
	}
}

func TestPaymentHandlersUserCancelInvalidState(t *testing.T) {
	service := &stubPaymentService{
		cancelFn: func(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentInvalidState
		},
	}

	router := newPaymentRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/payment/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestPaymentHandlersSweep(t *testing.T) {
	service := &stubPaymentService{
		expireFn: func(ctx context.Context) (int, error) {
			return 3, nil
		},
	}

	router := newPaymentRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/sweep", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp paymentSweepResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Expired != 3 {
		t.Fatalf("expected 3 expired payments, got %d", resp.Expired)
	}
}
