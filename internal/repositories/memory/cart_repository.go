package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
)

// CartRepository keeps per-session carts in process memory.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

// NewCartRepository constructs an empty in-memory cart repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]domain.Cart)}
}

// Get fetches the cart for a session.
func (r *CartRepository) Get(_ context.Context, cartID string) (domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return domain.Cart{}, notFoundError("carts.get", "cart not found")
	}
	return cloneCart(cart), nil
}

// Save stores the cart, replacing any previous contents.
func (r *CartRepository) Save(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	stored := cloneCart(cart)
	stored.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	r.carts[stored.ID] = stored
	r.mu.Unlock()

	return cloneCart(stored), nil
}

// Delete removes the cart. Deleting a missing cart is not an error.
func (r *CartRepository) Delete(_ context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart repository: cart id is required")
	}

	r.mu.Lock()
	delete(r.carts, cartID)
	r.mu.Unlock()
	return nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cloned := cart
	if len(cart.Lines) > 0 {
		cloned.Lines = make([]domain.CartLine, len(cart.Lines))
		copy(cloned.Lines, cart.Lines)
	}
	return cloned
}
