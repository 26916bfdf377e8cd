package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/platform/httpx"
	"github.com/nellai-market/api/internal/services"
)

const (
	maxOrderBodySize = 16 * 1024
	maxOrderPageSize = 100
)

// OrderHandlers exposes the order ledger: reads, fulfilment transitions,
// cancellation, and per-customer analytics.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs handlers backed by the order service.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/analytics", h.analytics)
	r.Get("/number/{orderNumber}", h.getByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.transitionStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: domain.Pagination{
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(value)))
			if status == "" {
				continue
			}
			if !isKnownOrderStatus(status) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+string(status), http.StatusBadRequest))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}

	if from := strings.TrimSpace(query.Get("from")); from != "" {
		parsed, err := parseRFC3339(from)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &parsed
	}
	if to := strings.TrimSpace(query.Get("to")); to != "" {
		parsed, err := parseRFC3339(to)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &parsed
	}
	if size := strings.TrimSpace(query.Get("page_size")); size != "" {
		value, err := strconv.Atoi(size)
		if err != nil || value <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		if value > maxOrderPageSize {
			value = maxOrderPageSize
		}
		filter.Pagination.PageSize = value
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        orders,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetByNumber(ctx, chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Reason:       req.Reason,
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var reason string
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		var req orderCancelRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
		reason = req.Reason
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  reason,
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID := strings.TrimSpace(r.URL.Query().Get("customer_id"))
	analytics, err := h.orders.Analytics(ctx, customerID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	statusCounts := make(map[string]int, len(analytics.StatusCounts))
	for status, count := range analytics.StatusCounts {
		statusCounts[string(status)] = count
	}
	writeJSONResponse(w, http.StatusOK, orderAnalyticsResponse{
		CustomerID:      customerID,
		TotalOrders:     analytics.TotalOrders,
		TotalSpent:      analytics.TotalSpent,
		CancelledOrders: analytics.CancelledOrders,
		StatusCounts:    statusCounts,
	})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", "payment refund failed; order was not cancelled", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusPreparing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return true
	}
	return false
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}

	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		TotalAmount:   order.TotalAmount,
		DeliveryFee:   order.DeliveryFee,
		PaymentMethod: string(order.PaymentMethod),
		Items:         items,
		Address: orderAddressPayload{
			FirstName: order.Address.FirstName,
			LastName:  order.Address.LastName,
			Address:   order.Address.Address,
			City:      order.Address.City,
			ZipCode:   order.Address.ZipCode,
			Phone:     order.Address.Phone,
		},
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ConfirmedAt: formatTimePtr(order.ConfirmedAt),
		ShippedAt:   formatTimePtr(order.ShippedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	if order.Payment != nil {
		payment := orderPaymentPayload{
			ID:          order.Payment.ID,
			Method:      string(order.Payment.Method),
			Status:      string(order.Payment.Status),
			Amount:      order.Payment.Amount,
			CompletedAt: formatTimePtr(order.Payment.CompletedAt),
		}
		if order.Payment.TransactionID != nil {
			payment.TransactionID = *order.Payment.TransactionID
		}
		payload.Payment = &payment
	}
	return payload
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"order_number"`
	CustomerID    string               `json:"customer_id"`
	Status        string               `json:"status"`
	TotalAmount   int64                `json:"total_amount"`
	DeliveryFee   int64                `json:"delivery_fee"`
	PaymentMethod string               `json:"payment_method"`
	Items         []orderItemPayload   `json:"items"`
	Payment       *orderPaymentPayload `json:"payment,omitempty"`
	Address       orderAddressPayload  `json:"address"`
	CancelReason  string               `json:"cancel_reason,omitempty"`
	CreatedAt     string               `json:"created_at,omitempty"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
	ConfirmedAt   string               `json:"confirmed_at,omitempty"`
	ShippedAt     string               `json:"shipped_at,omitempty"`
	DeliveredAt   string               `json:"delivered_at,omitempty"`
	CancelledAt   string               `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

type orderPaymentPayload struct {
	ID            string `json:"id"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

type orderAddressPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city"`
	ZipCode   string `json:"zip_code"`
	Phone     string `json:"phone"`
}

type orderAnalyticsResponse struct {
	CustomerID      string         `json:"customer_id,omitempty"`
	TotalOrders     int            `json:"total_orders"`
	TotalSpent      int64          `json:"total_spent"`
	CancelledOrders int            `json:"cancelled_orders"`
	StatusCounts    map[string]int `json:"status_counts,omitempty"`
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type orderCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}
