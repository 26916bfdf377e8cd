package domain

// PricingBreakdown captures the aggregated monetary results of pricing a cart
// for checkout. All amounts are whole rupees.
type PricingBreakdown struct {
	Currency    string
	Subtotal    int64
	DeliveryFee int64
	Total       int64
	Items       []ItemPricingBreakdown
}

// ItemPricingBreakdown stores per-line pricing outputs after running the engine.
type ItemPricingBreakdown struct {
	ProductID string
	UnitPrice int64
	Quantity  int
	Subtotal  int64
}

// DeliveryPolicy describes the flat-fee delivery rule: orders whose goods
// subtotal meets FreeThreshold ship free, everything below pays FlatFee.
type DeliveryPolicy struct {
	FreeThreshold int64
	FlatFee       int64
}

// FeeFor returns the delivery fee owed for a goods subtotal. The threshold
// is inclusive: a subtotal exactly at FreeThreshold ships free.
func (p DeliveryPolicy) FeeFor(subtotal int64) int64 {
	if subtotal >= p.FreeThreshold {
		return 0
	}
	return p.FlatFee
}
