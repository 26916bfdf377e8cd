package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/platform/httpx"
	"github.com/nellai-market/api/internal/services"
)

const (
	maxCheckoutBodySize  = 32 * 1024
	idempotencyKeyHeader = "Idempotency-Key"

	checkoutRateLimit  = 10
	checkoutRateWindow = time.Minute
)

// CheckoutHandlers exposes the checkout submission endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  *checkoutLimiter
}

// NewCheckoutHandlers constructs handlers backed by the checkout service.
// Submissions are rate limited per client address.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		limiter:  newCheckoutLimiter(checkoutRateLimit, checkoutRateWindow, nil),
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.submit)
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.SubmitCheckoutCommand{
		CartID: req.CartID,
		Customer: services.CustomerDetails{
			Email:     req.Customer.Email,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Phone:     req.Customer.Phone,
		},
		Address: domain.DeliveryAddress{
			FirstName: req.Address.FirstName,
			LastName:  req.Address.LastName,
			Address:   req.Address.Address,
			City:      req.Address.City,
			ZipCode:   req.Address.ZipCode,
			Phone:     req.Address.Phone,
		},
		PaymentMethod:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}

	result, err := h.checkout.Submit(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}

	payload := checkoutResponse{
		Order:    buildOrderPayload(result.Order),
		Customer: buildCustomerPayload(result.Customer),
		Replayed: result.Replayed,
	}
	if result.Session != nil {
		payload.PaymentSession = &paymentSessionPayload{
			SessionID:    result.Session.SessionID,
			PSP:          result.Session.PSP,
			ClientSecret: result.Session.ClientSecret,
			RedirectURL:  result.Session.RedirectURL,
			ExpiresAt:    formatTime(result.Session.ExpiresAt),
		}
	}

	writeJSONResponse(w, status, payload)
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to check out", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutSessionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment session could not be created; retry checkout", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "checkout could not be recorded; retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout failed", http.StatusInternalServerError))
	}
}

func buildCustomerPayload(customer services.Customer) customerPayload {
	return customerPayload{
		ID:        customer.ID,
		Email:     customer.Email,
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
		Phone:     customer.Phone,
	}
}

type checkoutRequest struct {
	CartID        string                  `json:"cart_id"`
	Customer      checkoutCustomerRequest `json:"customer"`
	Address       checkoutAddressRequest  `json:"address"`
	PaymentMethod string                  `json:"payment_method"`
}

type checkoutCustomerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type checkoutAddressRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	ZipCode   string `json:"zip_code"`
	Phone     string `json:"phone"`
}

type checkoutResponse struct {
	Order          orderPayload           `json:"order"`
	Customer       customerPayload        `json:"customer"`
	PaymentSession *paymentSessionPayload `json:"payment_session,omitempty"`
	Replayed       bool                   `json:"replayed"`
}

type customerPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type paymentSessionPayload struct {
	SessionID    string `json:"session_id"`
	PSP          string `json:"psp"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}
