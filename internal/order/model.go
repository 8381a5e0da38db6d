package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/tiny-treasure/internal/pricing"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in fulfilment order.
func Statuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}
}

// ParseStatus normalises s into a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("status %q: %w", s, ErrInvalidInput)
}

// StoreRef identifies the store an order belongs to.
type StoreRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Customer is the contact and delivery address captured at checkout.
type Customer struct {
	FullName string `json:"fullName" validate:"required,min=2,max=120"`
	Phone    string `json:"phone" validate:"required,min=9,max=20"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Region   string `json:"region" validate:"required"`
	City     string `json:"city" validate:"required,max=120"`
	Address  string `json:"address,omitempty" validate:"max=300"`
	Notes    string `json:"notes,omitempty" validate:"max=500"`
}

// Item is a price snapshot of one cart line at checkout time.
type Item struct {
	ProductID   string        `json:"productId"`
	ProductName string        `json:"productName"`
	VariantID   string        `json:"variantId,omitempty"`
	VariantName string        `json:"variantName,omitempty"`
	UnitPrice   pricing.Money `json:"unitPrice"`
	Quantity    int           `json:"quantity"`
	LineTotal   pricing.Money `json:"lineTotal"`
}

// Order is the record of one store's share of a checkout.
type Order struct {
	ID                string                `json:"id"`
	Number            string                `json:"orderNumber"`
	Store             StoreRef              `json:"store"`
	Customer          Customer              `json:"customer"`
	Items             []Item                `json:"items"`
	TotalAmount       pricing.Money         `json:"totalAmount"`
	ShippingCost      pricing.Money         `json:"shippingCost"`
	FinalTotal        pricing.Money         `json:"finalTotal"`
	Status            Status                `json:"status"`
	DeliveryType      shipping.DeliveryType `json:"deliveryType"`
	Region            *shipping.Region      `json:"region,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
	EstimatedDelivery time.Time             `json:"estimatedDelivery"`
}

// Validate checks the totals invariant and required fields.
func (o Order) Validate() error {
	if o.ID == "" || o.Number == "" {
		return fmt.Errorf("order identity missing: %w", ErrInvalidInput)
	}
	if o.Store.ID == "" {
		return fmt.Errorf("order %s has no store: %w", o.Number, ErrInvalidInput)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("order %s has no items: %w", o.Number, ErrInvalidInput)
	}
	var sum pricing.Money
	for _, it := range o.Items {
		if it.Quantity <= 0 || it.LineTotal != it.UnitPrice*pricing.Money(it.Quantity) {
			return fmt.Errorf("order %s item %s: %w", o.Number, it.ProductID, ErrInvalidInput)
		}
		sum += it.LineTotal
	}
	if sum != o.TotalAmount {
		return fmt.Errorf("order %s subtotal %d != items %d: %w", o.Number, o.TotalAmount, sum, ErrInvalidInput)
	}
	if o.FinalTotal != o.TotalAmount+o.ShippingCost {
		return fmt.Errorf("order %s final total mismatch: %w", o.Number, ErrInvalidInput)
	}
	return nil
}

func (o Order) clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	if o.Region != nil {
		r := *o.Region
		o.Region = &r
	}
	return o
}
