package pricing

import "math"

// Config holds the checkout parameters applied when quoting an order.
// Amounts are minor currency units (CLP has no decimals).
type Config struct {
	TaxRate      float64
	ShippingCost int64
}

// Quote is the priced breakdown of a cart. Total is always
// Subtotal + Tax + Shipping.
type Quote struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Total    int64
}

// LinePrice is the (unit price, quantity) input of a single cart line.
type LinePrice struct {
	UnitPrice int64
	Quantity  int
}

// Compute prices a cart. Tax is rounded half-up to the nearest unit,
// matching currency rounding. Inputs are assumed validated (non-negative
// price, positive quantity); Compute itself has no failure mode.
func Compute(lines []LinePrice, cfg Config, includeShipping bool) Quote {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.UnitPrice * int64(l.Quantity)
	}

	tax := int64(math.Floor(float64(subtotal)*cfg.TaxRate + 0.5))

	var shipping int64
	if includeShipping {
		shipping = cfg.ShippingCost
	}

	return Quote{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal + tax + shipping,
	}
}
