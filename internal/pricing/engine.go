package pricing

import "math"

// Money represents a monetary value in whole Algerian Dinar.
type Money = int64

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components for one store group.
type Summary struct {
	Subtotal Money
	Shipping Money
	Total    Money
}

// UnitPrice returns the base price adjusted by a variant modifier.
func UnitPrice(base, modifier Money) Money {
	return base + modifier
}

// LineTotal returns the unit price and the extended price for qty units.
func LineTotal(base, modifier Money, qty int) (Money, Money) {
	unit := UnitPrice(base, modifier)
	return unit, unit * Money(qty)
}

// Compute calculates the subtotal of items and adds the shipping cost.
func Compute(items []Item, shipping Money) Summary {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	if shipping < 0 {
		shipping = 0
	}
	return Summary{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal + shipping,
	}
}

// Scale multiplies amount by factor and rounds half away from zero.
func Scale(amount Money, factor float64) Money {
	return Money(math.Round(float64(amount) * factor))
}
