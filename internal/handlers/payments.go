package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nellai-market/api/internal/platform/httpx"
	"github.com/nellai-market/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// PaymentHandlers covers gateway webhook intake, shopper-initiated payment
// cancellation, and the internal stale-session sweep.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs handlers backed by the payment reconciler.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: payments}
}

// WebhookRoutes wires the provider webhook endpoint. Mounted under /webhooks.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handleWebhook)
}

// OrderRoutes wires shopper-facing payment operations under the orders group.
func (h *PaymentHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{orderID}/payment/cancel", h.cancelPayment)
}

// InternalRoutes wires operator endpoints. Mounted under /internal behind
// the HMAC guard.
func (h *PaymentHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/sweep", h.sweepStalePayments)
}

func (h *PaymentHandlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read webhook payload", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds size limit", http.StatusRequestEntityTooLarge))
		return
	}

	err = h.payments.HandleWebhookEvent(ctx, services.PaymentWebhookCommand{
		Provider:  provider,
		Payload:   payload,
		Signature: r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		h.writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

func (h *PaymentHandlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var reason paymentCancelRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &reason); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.PaymentOutcomeCommand{OrderID: chi.URLParam(r, "orderID")}
	if trimmed := strings.TrimSpace(reason.Reason); trimmed != "" {
		cmd.GatewayPayload = map[string]any{"cancelReason": trimmed}
	}

	order, err := h.payments.OnUserCancel(ctx, cmd)
	if err != nil {
		h.writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PaymentHandlers) sweepStalePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	expired, err := h.payments.ExpireStalePayments(ctx)
	if err != nil {
		h.writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentSweepResponse{Expired: expired})
}

func (h *PaymentHandlers) writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentWebhookRejected):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_rejected", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

type webhookAckResponse struct {
	Received bool `json:"received"`
}

type paymentCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type paymentSweepResponse struct {
	Expired int `json:"expired"`
}
