package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/nellai-market/api/internal/domain"
	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
	"github.com/nellai-market/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	orderKeysCollection    = "orderKeys"
)

// OrderRepository persists orders in Firestore. The order header, its lines,
// and the payment record live in a single document so their creation and
// every later mutation is atomic. Order-number uniqueness and idempotency
// replay are enforced with reservation documents written in the same
// transaction as the order.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Create atomically persists the order together with its number reservation
// and idempotency reservation. A colliding order number surfaces as a
// conflict error; a previously recorded idempotency key short-circuits into
// a replay of the original order.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if r == nil || r.base == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return repositories.OrderCreateResult{}, errors.New("order repository: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.OrderCreateResult{}, err
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var replayedID string
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		replayedID = ""

		orderRef := client.Collection(ordersCollection).Doc(order.ID)
		numberRef := client.Collection(orderNumbersCollection).Doc(order.OrderNumber)

		var keyRef *firestore.DocumentRef
		if key := strings.TrimSpace(order.IdempotencyKey); key != "" {
			keyRef = client.Collection(orderKeysCollection).Doc(idempotencyDocID(order.CustomerID, key))
			keySnap, err := tx.Get(keyRef)
			switch {
			case err == nil:
				existing, err := keySnap.DataAt("orderId")
				if err != nil {
					return err
				}
				id, _ := existing.(string)
				if id == "" {
					return status.Error(codes.Internal, "order key reservation missing order id")
				}
				replayedID = id
				return nil
			case statusCodeIsNotFound(err):
				// new key, fall through and reserve it
			default:
				return err
			}
		}

		if _, err := tx.Get(numberRef); err == nil {
			return status.Error(codes.AlreadyExists, "order number already reserved")
		} else if !statusCodeIsNotFound(err) {
			return err
		}

		doc := encodeOrderDocument(order, now)
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		if err := tx.Create(numberRef, map[string]any{
			"orderId":   order.ID,
			"createdAt": now,
		}); err != nil {
			return err
		}
		if keyRef != nil {
			if err := tx.Create(keyRef, map[string]any{
				"orderId":   order.ID,
				"createdAt": now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, err
	}

	if replayedID != "" {
		existing, err := r.FindByID(ctx, replayedID)
		if err != nil {
			return repositories.OrderCreateResult{}, err
		}
		return repositories.OrderCreateResult{Order: existing, Replayed: true}, nil
	}

	saved, err := r.FindByID(ctx, order.ID)
	if err != nil {
		return repositories.OrderCreateResult{}, err
	}
	return repositories.OrderCreateResult{Order: saved}, nil
}

// FindByID fetches a single order with its lines and payment record.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// FindByNumber resolves an order through its number reservation document.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := client.Collection(orderNumbersCollection).Doc(orderNumber).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_number", err)
	}
	raw, err := snap.DataAt("orderId")
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_number", err)
	}
	orderID, _ := raw.(string)
	if orderID == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_number", status.Error(codes.NotFound, "order number reservation empty"))
	}
	return r.FindByID(ctx, orderID)
}

// List returns orders matching the filter ordered by newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		trimmed := strings.TrimSpace(string(s))
		if trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	customerID := strings.TrimSpace(filter.CustomerID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if filter.DateRange.From != nil && !filter.DateRange.From.IsZero() {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil && !filter.DateRange.To.IsZero() {
			q = q.Where("createdAt", "<", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Mutate applies fn to the current order inside a transaction. Firestore
// serialises concurrent transactions touching the same document, so losers
// observe the winner's state on retry.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order domain.Order) (domain.Order, error)) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutation function is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		next, err := fn(decodeOrderDocument(orderID, doc))
		if err != nil {
			return err
		}
		next.ID = orderID
		updated = next
		return tx.Set(docRef, encodeOrderDocument(next, time.Now().UTC()))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// ListStalePayments returns orders whose gateway payment has sat in
// processing since before cutoff, oldest first.
func (r *OrderRepository) ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if cutoff.IsZero() {
		return nil, errors.New("order repository: cutoff is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("payment.status", "==", string(domain.PaymentStatusProcessing)).
			Where("payment.updatedAt", "<", cutoff.UTC()).
			OrderBy("payment.updatedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

// Analytics aggregates a customer's order history.
func (r *OrderRepository) Analytics(ctx context.Context, customerID string) (domain.OrderAnalytics, error) {
	if r == nil || r.base == nil {
		return domain.OrderAnalytics{}, errors.New("order repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.OrderAnalytics{}, errors.New("order repository: customer id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID)
	})
	if err != nil {
		return domain.OrderAnalytics{}, err
	}

	analytics := domain.OrderAnalytics{
		StatusCounts: make(map[domain.OrderStatus]int),
	}
	for _, doc := range docs {
		order := decodeOrderDocument(doc.ID, doc.Data)
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

type orderDocument struct {
	CustomerID     string              `firestore:"customerId"`
	OrderNumber    string              `firestore:"orderNumber"`
	Status         string              `firestore:"status"`
	TotalAmount    int64               `firestore:"totalAmount"`
	DeliveryFee    int64               `firestore:"deliveryFee"`
	Address        addressDocument     `firestore:"address"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	IdempotencyKey string              `firestore:"idempotencyKey,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	Payment        *paymentDocument    `firestore:"payment,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	ConfirmedAt    *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt      *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason   *string             `firestore:"cancelReason,omitempty"`
}

type addressDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Address   string `firestore:"address"`
	City      string `firestore:"city"`
	ZipCode   string `firestore:"zipCode"`
	Phone     string `firestore:"phone"`
}

type orderItemDocument struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	Subtotal    int64  `firestore:"subtotal"`
}

type paymentDocument struct {
	ID              string         `firestore:"id"`
	Method          string         `firestore:"method"`
	Status          string         `firestore:"status"`
	Amount          int64          `firestore:"amount"`
	TransactionID   *string        `firestore:"transactionId,omitempty"`
	GatewayResponse map[string]any `firestore:"gatewayResponse,omitempty"`
	CreatedAt       time.Time      `firestore:"createdAt"`
	UpdatedAt       time.Time      `firestore:"updatedAt"`
	CompletedAt     *time.Time     `firestore:"completedAt,omitempty"`
}

func encodeOrderDocument(order domain.Order, now time.Time) orderDocument {
	doc := orderDocument{
		CustomerID:     strings.TrimSpace(order.CustomerID),
		OrderNumber:    strings.TrimSpace(order.OrderNumber),
		Status:         string(order.Status),
		TotalAmount:    order.TotalAmount,
		DeliveryFee:    order.DeliveryFee,
		PaymentMethod:  string(order.PaymentMethod),
		IdempotencyKey: strings.TrimSpace(order.IdempotencyKey),
		Address: addressDocument{
			FirstName: strings.TrimSpace(order.Address.FirstName),
			LastName:  strings.TrimSpace(order.Address.LastName),
			Address:   strings.TrimSpace(order.Address.Address),
			City:      strings.TrimSpace(order.Address.City),
			ZipCode:   strings.TrimSpace(order.Address.ZipCode),
			Phone:     strings.TrimSpace(order.Address.Phone),
		},
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    now,
		ConfirmedAt:  cloneTimePtr(order.ConfirmedAt),
		ShippedAt:    cloneTimePtr(order.ShippedAt),
		DeliveredAt:  cloneTimePtr(order.DeliveredAt),
		CancelledAt:  cloneTimePtr(order.CancelledAt),
		CancelReason: cloneStringPtr(order.CancelReason),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}

	if order.Payment != nil {
		payment := paymentDocument{
			ID:              order.Payment.ID,
			Method:          string(order.Payment.Method),
			Status:          string(order.Payment.Status),
			Amount:          order.Payment.Amount,
			TransactionID:   cloneStringPtr(order.Payment.TransactionID),
			GatewayResponse: cloneAnyMap(order.Payment.GatewayResponse),
			CreatedAt:       order.Payment.CreatedAt.UTC(),
			UpdatedAt:       now,
			CompletedAt:     cloneTimePtr(order.Payment.CompletedAt),
		}
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = now
		}
		doc.Payment = &payment
	}

	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:             id,
		CustomerID:     doc.CustomerID,
		OrderNumber:    doc.OrderNumber,
		Status:         domain.OrderStatus(doc.Status),
		TotalAmount:    doc.TotalAmount,
		DeliveryFee:    doc.DeliveryFee,
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		IdempotencyKey: doc.IdempotencyKey,
		Address: domain.DeliveryAddress{
			FirstName: doc.Address.FirstName,
			LastName:  doc.Address.LastName,
			Address:   doc.Address.Address,
			City:      doc.Address.City,
			ZipCode:   doc.Address.ZipCode,
			Phone:     doc.Address.Phone,
		},
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		ConfirmedAt:  cloneTimePtr(doc.ConfirmedAt),
		ShippedAt:    cloneTimePtr(doc.ShippedAt),
		DeliveredAt:  cloneTimePtr(doc.DeliveredAt),
		CancelledAt:  cloneTimePtr(doc.CancelledAt),
		CancelReason: cloneStringPtr(doc.CancelReason),
	}

	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          item.ID,
			OrderID:     id,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}

	if doc.Payment != nil {
		order.Payment = &domain.Payment{
			ID:              doc.Payment.ID,
			OrderID:         id,
			Method:          domain.PaymentMethod(doc.Payment.Method),
			Status:          domain.PaymentStatus(doc.Payment.Status),
			Amount:          doc.Payment.Amount,
			TransactionID:   cloneStringPtr(doc.Payment.TransactionID),
			GatewayResponse: cloneAnyMap(doc.Payment.GatewayResponse),
			CreatedAt:       doc.Payment.CreatedAt,
			UpdatedAt:       doc.Payment.UpdatedAt,
			CompletedAt:     cloneTimePtr(doc.Payment.CompletedAt),
		}
	}

	return order
}

func idempotencyDocID(customerID, key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(customerID) + "|" + strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])[:32]
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	if parts[1] == "" {
		return time.Time{}, "", errors.New("invalid token id")
	}
	return ts, parts[1], nil
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	cloned := strings.TrimSpace(*value)
	return &cloned
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for k, v := range values {
		cloned[k] = v
	}
	return cloned
}

func statusCodeIsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
