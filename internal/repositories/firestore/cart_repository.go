package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
	"github.com/nellai-market/api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists per-session carts in Firestore. The session ID is
// the document ID, so a session always resolves to a single cart.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection)
	return &CartRepository{base: base}, nil
}

// Get loads the cart for a session.
func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc, err := r.base.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := decodeCartDocument(doc.ID, doc.Data)
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// Save upserts the full cart state.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	doc := encodeCartDocument(cart, now)
	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := decodeCartDocument(cartID, doc)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the cart, typically after a completed checkout.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart repository: cart id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, cartID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

type cartDocument struct {
	Lines     []cartLineDocument `firestore:"lines"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID   string    `firestore:"productId"`
	ProductName string    `firestore:"productName"`
	UnitPrice   int64     `firestore:"unitPrice"`
	Quantity    int       `firestore:"quantity"`
	AddedAt     time.Time `firestore:"addedAt"`
}

func encodeCartDocument(cart domain.Cart, now time.Time) cartDocument {
	doc := cartDocument{
		Lines:     make([]cartLineDocument, 0, len(cart.Lines)),
		UpdatedAt: now,
	}
	for _, line := range cart.Lines {
		doc.Lines = append(doc.Lines, cartLineDocument{
			ProductID:   strings.TrimSpace(line.ProductID),
			ProductName: strings.TrimSpace(line.ProductName),
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			AddedAt:     line.AddedAt.UTC(),
		})
	}
	return doc
}

func decodeCartDocument(id string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:        id,
		Lines:     make([]domain.CartLine, 0, len(doc.Lines)),
		UpdatedAt: doc.UpdatedAt,
	}
	for _, line := range doc.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			AddedAt:     line.AddedAt,
		})
	}
	return cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)
