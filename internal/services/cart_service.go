package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nellai-market/api/internal/repositories"
)

const maxCartLineQuantity = 99

var (
	// ErrCartInvalidInput signals the caller provided invalid data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates the referenced product is not in the catalog.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartProductUnavailable indicates the product is out of stock.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
	// ErrCartLineNotFound indicates the cart has no line for the product.
	ErrCartLineNotFound = errors.New("cart: line not found")
	// ErrCartUnavailable indicates cart dependencies are currently unavailable.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts   repositories.CartRepository
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts   repositories.CartRepository
	catalog repositories.CatalogRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:   deps.Carts,
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetCart returns the cart for a session; a missing cart reads as empty.
func (s *cartService) GetCart(ctx context.Context, cartID string) (Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return Cart{}, fmt.Errorf("%w: cart id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{ID: cartID, Lines: []CartLine{}}, nil
		}
		return Cart{}, s.mapRepositoryError(err)
	}
	return cart, nil
}

// AddItem adds the product to the cart, merging quantities for existing lines.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	productID := strings.TrimSpace(cmd.ProductID)
	if cartID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: cart id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds %d per line", ErrCartInvalidInput, maxCartLineQuantity)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return Cart{}, s.mapRepositoryError(err)
	}
	if !product.InStock {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartProductUnavailable, productID)
	}

	cart, err := s.GetCart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}

	now := s.clock()
	merged := false
	for i := range cart.Lines {
		if cart.Lines[i].ProductID != productID {
			continue
		}
		total := cart.Lines[i].Quantity + cmd.Quantity
		if total > maxCartLineQuantity {
			return Cart{}, fmt.Errorf("%w: quantity exceeds %d per line", ErrCartInvalidInput, maxCartLineQuantity)
		}
		cart.Lines[i].Quantity = total
		cart.Lines[i].ProductName = product.Name
		cart.Lines[i].UnitPrice = product.UnitPrice
		merged = true
		break
	}
	if !merged {
		cart.Lines = append(cart.Lines, CartLine{
			ProductID:   productID,
			ProductName: product.Name,
			UnitPrice:   product.UnitPrice,
			Quantity:    cmd.Quantity,
			AddedAt:     now,
		})
	}

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"cartId":    cartID,
		"productId": productID,
		"quantity":  cmd.Quantity,
		"lines":     len(saved.Lines),
	})

	return saved, nil
}

// UpdateItemQuantity sets the quantity for a line; zero removes it.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	productID := strings.TrimSpace(cmd.ProductID)
	if cartID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: cart id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds %d per line", ErrCartInvalidInput, maxCartLineQuantity)
	}
	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{CartID: cartID, ProductID: productID})
	}

	cart, err := s.GetCart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}

	found := false
	for i := range cart.Lines {
		if cart.Lines[i].ProductID != productID {
			continue
		}
		cart.Lines[i].Quantity = cmd.Quantity
		found = true
		break
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartLineNotFound, productID)
	}

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

// RemoveItem drops the product's line from the cart. Removing an absent
// line is a no-op and returns the cart unchanged.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	productID := strings.TrimSpace(cmd.ProductID)
	if cartID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: cart id and product id are required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}

	lines := make([]CartLine, 0, len(cart.Lines))
	removed := false
	for _, line := range cart.Lines {
		if line.ProductID == productID {
			removed = true
			continue
		}
		lines = append(lines, line)
	}
	if !removed {
		return cart, nil
	}
	cart.Lines = lines

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

// ClearCart removes the cart entirely. Clearing a missing cart is a no-op.
func (s *cartService) ClearCart(ctx context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return fmt.Errorf("%w: cart id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Delete(ctx, cartID); err != nil && !isRepoNotFound(err) {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartLineNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
