package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/nellai-market/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals the cart contains lines that cannot be priced.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PricingEngineDeps bundles collaborators for the pricing engine.
type PricingEngineDeps struct {
	Currency string
	Delivery domain.DeliveryPolicy
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type pricingEngine struct {
	currency string
	delivery domain.DeliveryPolicy
	logger   func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs the pricing engine with the store's delivery policy.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("pricing engine: currency is required")
	}
	if deps.Delivery.FreeThreshold < 0 || deps.Delivery.FlatFee < 0 {
		return nil, errors.New("pricing engine: delivery policy must be non-negative")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingEngine{
		currency: currency,
		delivery: deps.Delivery,
		logger:   logger,
	}, nil
}

// PriceCart computes the subtotal, delivery fee, and grand total for a cart.
// Amounts are whole rupees; quantities and unit prices must be positive.
func (e *pricingEngine) PriceCart(ctx context.Context, cart Cart) (PricingBreakdown, error) {
	if e == nil {
		return PricingBreakdown{}, errors.New("pricing engine not initialised")
	}

	breakdown := PricingBreakdown{
		Currency: e.currency,
		Items:    make([]ItemPricingBreakdown, 0, len(cart.Lines)),
	}

	for _, line := range cart.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return PricingBreakdown{}, fmt.Errorf("%w: line product id is required", ErrPricingInvalidInput)
		}
		if line.Quantity <= 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: quantity for %s must be positive", ErrPricingInvalidInput, line.ProductID)
		}
		if line.UnitPrice <= 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: unit price for %s must be positive", ErrPricingInvalidInput, line.ProductID)
		}

		subtotal := line.UnitPrice * int64(line.Quantity)
		breakdown.Items = append(breakdown.Items, ItemPricingBreakdown{
			ProductID: line.ProductID,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  subtotal,
		})
		breakdown.Subtotal += subtotal
	}

	breakdown.DeliveryFee = e.DeliveryFee(breakdown.Subtotal)
	breakdown.Total = breakdown.Subtotal + breakdown.DeliveryFee

	e.logger(ctx, "pricing.cart.priced", map[string]any{
		"cartId":      cart.ID,
		"subtotal":    breakdown.Subtotal,
		"deliveryFee": breakdown.DeliveryFee,
		"total":       breakdown.Total,
	})

	return breakdown, nil
}

// DeliveryFee applies the flat-fee policy: orders at or above the free
// threshold ship free.
func (e *pricingEngine) DeliveryFee(subtotal int64) int64 {
	if e == nil {
		return 0
	}
	return e.delivery.FeeFor(subtotal)
}
