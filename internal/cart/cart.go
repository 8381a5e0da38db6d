package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
)

// ErrNotFound indicates the requested cart or line could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// DefaultVariant is the identity suffix for lines without a variant selection.
const DefaultVariant = "default"

// LineID is the identity of a product configuration inside a cart.
func LineID(productID, variantID string) string {
	if variantID == "" {
		variantID = DefaultVariant
	}
	return productID + "-" + variantID
}

// Line is one selected product configuration.
type Line struct {
	ID       string           `json:"id"`
	Product  catalog.Product  `json:"product"`
	Variant  *catalog.Variant `json:"variant,omitempty"`
	Quantity int              `json:"quantity"`
	Store    catalog.Store    `json:"store"`
}

// Totals returns the unit price (base plus variant modifier) and the line total.
func (l Line) Totals() (unit, total pricing.Money) {
	var modifier pricing.Money
	if l.Variant != nil {
		modifier = l.Variant.PriceModifier
	}
	return pricing.LineTotal(l.Product.BasePrice, modifier, l.Quantity)
}

// StoreGroup is the subset of lines shipped together by one store.
type StoreGroup struct {
	Store catalog.Store `json:"store"`
	Lines []Line        `json:"lines"`
}

// FreeShipping reports whether any line in the group ships free, which waives
// shipping for the whole group.
func (g StoreGroup) FreeShipping() bool {
	for _, l := range g.Lines {
		if l.Product.IsFreeShipping {
			return true
		}
	}
	return false
}

// Subtotal sums the group's line totals.
func (g StoreGroup) Subtotal() pricing.Money {
	var sum pricing.Money
	for _, l := range g.Lines {
		_, total := l.Totals()
		sum += total
	}
	return sum
}

// Cart is a single shopper's active selection.
type Cart struct {
	ID        string    `json:"id"`
	Lines     []Line    `json:"lines"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Add puts qty units of product (optionally a variant) into the cart. Adding an
// existing configuration increments its quantity. qty must be positive; stock is
// not checked.
func (c *Cart) Add(product catalog.Product, store catalog.Store, qty int, variantID string) (Line, error) {
	if qty < 1 {
		return Line{}, fmt.Errorf("quantity %d: %w", qty, ErrInvalidInput)
	}
	if product.StoreID != "" && store.ID != "" && product.StoreID != store.ID {
		return Line{}, fmt.Errorf("product %s does not belong to store %s: %w", product.ID, store.ID, ErrInvalidInput)
	}
	var variant *catalog.Variant
	if variantID != "" && variantID != DefaultVariant {
		v, ok := product.Variant(variantID)
		if !ok {
			return Line{}, fmt.Errorf("variant %s of product %s: %w", variantID, product.ID, ErrInvalidInput)
		}
		variant = &v
	}
	id := LineID(product.ID, variantID)
	for i := range c.Lines {
		if c.Lines[i].ID == id {
			c.Lines[i].Quantity += qty
			return c.Lines[i], nil
		}
	}
	line := Line{ID: id, Product: product, Variant: variant, Quantity: qty, Store: store}
	c.Lines = append(c.Lines, line)
	return line, nil
}

// SetQuantity replaces a line's quantity; qty <= 0 removes the line.
func (c *Cart) SetQuantity(lineID string, qty int) error {
	if qty <= 0 {
		return c.Remove(lineID)
	}
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			c.Lines[i].Quantity = qty
			return nil
		}
	}
	return fmt.Errorf("line %s: %w", lineID, ErrNotFound)
}

// Remove deletes a line.
func (c *Cart) Remove(lineID string) error {
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("line %s: %w", lineID, ErrNotFound)
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = nil
}

// TotalItems counts units across all lines.
func (c *Cart) TotalItems() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// TotalPrice sums every line total, shipping excluded.
func (c *Cart) TotalPrice() pricing.Money {
	var sum pricing.Money
	for _, l := range c.Lines {
		_, total := l.Totals()
		sum += total
	}
	return sum
}

// Groups splits the cart by store, in order of first appearance.
func (c *Cart) Groups() []StoreGroup {
	index := make(map[string]int)
	var groups []StoreGroup
	for _, l := range c.Lines {
		key := l.Store.ID
		if key == "" {
			key = l.Product.StoreID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, StoreGroup{Store: l.Store})
		}
		groups[i].Lines = append(groups[i].Lines, l)
	}
	return groups
}

// ShippingCost charges flatRate per store group, except groups containing a
// free-shipping line which ship for nothing.
func (c *Cart) ShippingCost(flatRate pricing.Money) pricing.Money {
	var sum pricing.Money
	for _, g := range c.Groups() {
		if g.FreeShipping() {
			continue
		}
		sum += flatRate
	}
	return sum
}

// Clone returns a deep copy safe to hand out of the service.
func (c *Cart) Clone() Cart {
	out := *c
	out.Lines = make([]Line, len(c.Lines))
	for i, l := range c.Lines {
		if l.Variant != nil {
			v := *l.Variant
			l.Variant = &v
		}
		out.Lines[i] = l
	}
	return out
}
