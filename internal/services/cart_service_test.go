package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories/memory"
)

func cartTestProducts() []domain.CatalogProduct {
	return []domain.CatalogProduct{
		{ID: "prod-001", Name: "Ponni Raw Rice", Category: "staples", UnitPrice: 62, Unit: "kg", InStock: true},
		{ID: "prod-005", Name: "Tomato", Category: "vegetables", UnitPrice: 38, Unit: "kg", InStock: true},
		{ID: "prod-012", Name: "Turmeric Powder", Category: "spices", UnitPrice: 58, Unit: "100g", InStock: false},
	}
}

func newTestCartService(t *testing.T) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts:   memory.NewCartRepository(),
		Catalog: memory.NewCatalogRepository(cartTestProducts()),
		Clock:   fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartServiceGetCartMissingReadsEmpty(t *testing.T) {
	svc := newTestCartService(t)

	cart, err := svc.GetCart(context.Background(), "cart-absent")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.ID != "cart-absent" || !cart.IsEmpty() {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestCartServiceAddItemCreatesLineFromCatalog(t *testing.T) {
	svc := newTestCartService(t)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		CartID:    "cart-1",
		ProductID: "prod-001",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Lines))
	}
	line := cart.Lines[0]
	if line.ProductName != "Ponni Raw Rice" || line.UnitPrice != 62 || line.Quantity != 2 {
		t.Fatalf("unexpected line: %+v", line)
	}
	if cart.Subtotal() != 124 {
		t.Fatalf("expected subtotal 124, got %d", cart.Subtotal())
	}
}

func TestCartServiceAddItemMergesQuantities(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 3})
	if err != nil {
		t.Fatalf("AddItem merge: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %+v", cart.Lines)
	}
}

func TestCartServiceAddItemRejectsExcessiveQuantity(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{
		CartID:    "cart-1",
		ProductID: "prod-005",
		Quantity:  500,
	}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for oversized quantity, got %v", err)
	}

	// Merging over the limit is rejected too, leaving the line untouched.
	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-005", Quantity: 60}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-005", Quantity: 60}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for oversized merge, got %v", err)
	}
	cart, err := svc.GetCart(ctx, "cart-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.Lines[0].Quantity != 60 {
		t.Fatalf("expected quantity 60 after rejected merge, got %d", cart.Lines[0].Quantity)
	}
}

func TestCartServiceAddItemRejectsUnknownProduct(t *testing.T) {
	svc := newTestCartService(t)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{
		CartID:    "cart-1",
		ProductID: "prod-999",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestCartServiceAddItemRejectsOutOfStock(t *testing.T) {
	svc := newTestCartService(t)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{
		CartID:    "cart-1",
		ProductID: "prod-012",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartProductUnavailable) {
		t.Fatalf("expected product unavailable, got %v", err)
	}
}

func TestCartServiceUpdateItemQuantity(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 7})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if cart.Lines[0].Quantity != 7 {
		t.Fatalf("expected quantity 7, got %d", cart.Lines[0].Quantity)
	}
}

func TestCartServiceUpdateItemQuantityZeroRemovesLine(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-005", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "prod-005" {
		t.Fatalf("expected only tomato line, got %+v", cart.Lines)
	}
}

func TestCartServiceUpdateMissingLine(t *testing.T) {
	svc := newTestCartService(t)

	_, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		CartID:    "cart-1",
		ProductID: "prod-001",
		Quantity:  2,
	})
	if !errors.Is(err, ErrCartLineNotFound) {
		t.Fatalf("expected line not found, got %v", err)
	}
}

func TestCartServiceRemoveMissingLineIsNoOp(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err := svc.RemoveItem(ctx, RemoveCartItemCommand{
		CartID:    "cart-1",
		ProductID: "prod-absent",
	})
	if err != nil {
		t.Fatalf("RemoveItem (absent line): %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "prod-001" {
		t.Fatalf("expected cart unchanged, got %+v", cart.Lines)
	}

	// Setting an absent line's quantity to zero is the same no-op.
	cart, err = svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{CartID: "cart-1", ProductID: "prod-absent", Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateItemQuantity (absent line, zero): %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected cart unchanged, got %+v", cart.Lines)
	}
}

func TestCartServiceClearCart(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := svc.ClearCart(ctx, "cart-1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}

	cart, err := svc.GetCart(ctx, "cart-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart after clear, got %+v", cart)
	}

	// Clearing again is a no-op.
	if err := svc.ClearCart(ctx, "cart-1"); err != nil {
		t.Fatalf("ClearCart (missing): %v", err)
	}
}

func TestCartServiceValidation(t *testing.T) {
	svc := newTestCartService(t)
	ctx := context.Background()

	if _, err := svc.GetCart(ctx, "  "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for blank cart id, got %v", err)
	}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: 0}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
	if _, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{CartID: "cart-1", ProductID: "prod-001", Quantity: -1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for negative quantity, got %v", err)
	}
}
