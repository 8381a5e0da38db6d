package shipping

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/tiny-treasure/internal/pricing"
)

var (
	// ErrRegionRequired is returned when no destination region has been selected yet.
	// Callers must surface it as a pending quote, never as free shipping.
	ErrRegionRequired = errors.New("shipping region required")
	// ErrUnknownRegion is returned when the region is not in the region table.
	ErrUnknownRegion = errors.New("unknown shipping region")
	// ErrInvalidDeliveryType is returned for delivery types other than home or office.
	ErrInvalidDeliveryType = errors.New("invalid delivery type")
)

// DeliveryType selects home delivery or pickup at a stop-desk office.
type DeliveryType string

const (
	DeliveryHome   DeliveryType = "home"
	DeliveryOffice DeliveryType = "office"
)

// ParseDeliveryType normalises a delivery type. Empty input means home delivery.
func ParseDeliveryType(value string) (DeliveryType, error) {
	switch DeliveryType(strings.ToLower(strings.TrimSpace(value))) {
	case "", DeliveryHome:
		return DeliveryHome, nil
	case DeliveryOffice:
		return DeliveryOffice, nil
	}
	return "", fmt.Errorf("%q: %w", value, ErrInvalidDeliveryType)
}

// DefaultFlatRate is the per-store rate used before a region is known.
const DefaultFlatRate pricing.Money = 400

// DefaultOfficeFactor discounts office pickup relative to home delivery.
const DefaultOfficeFactor = 0.8

// RateTable maps zones to base home-delivery rates.
type RateTable struct {
	Rates        map[Zone]pricing.Money
	OfficeFactor float64
}

// DefaultRates returns the storefront's standard rate table.
func DefaultRates() RateTable {
	return RateTable{
		Rates: map[Zone]pricing.Money{
			ZoneNorth: 400,
			ZoneSouth: 1200,
			ZoneEast:  600,
			ZoneWest:  700,
		},
		OfficeFactor: DefaultOfficeFactor,
	}
}

func (t RateTable) officeFactor() float64 {
	if t.OfficeFactor <= 0 || t.OfficeFactor > 1 {
		return DefaultOfficeFactor
	}
	return t.OfficeFactor
}

// CostForZone returns the rate for a zone and delivery type.
func (t RateTable) CostForZone(zone Zone, deliveryType DeliveryType) (pricing.Money, error) {
	base, ok := t.Rates[zone]
	if !ok {
		return 0, fmt.Errorf("zone %q: %w", zone, ErrUnknownRegion)
	}
	switch deliveryType {
	case DeliveryHome:
		return base, nil
	case DeliveryOffice:
		return pricing.Scale(base, t.officeFactor()), nil
	}
	return 0, fmt.Errorf("%q: %w", deliveryType, ErrInvalidDeliveryType)
}

// CostForRegion returns the shipping cost of one shipment to region.
func (t RateTable) CostForRegion(region string, deliveryType DeliveryType) (pricing.Money, error) {
	if strings.TrimSpace(region) == "" {
		return 0, ErrRegionRequired
	}
	r, ok := LookupRegion(region)
	if !ok {
		return 0, fmt.Errorf("%q: %w", region, ErrUnknownRegion)
	}
	return t.CostForZone(r.Zone, deliveryType)
}

// Quote is a shipping cost that may still be waiting on a region selection.
type Quote struct {
	Region        *Region       `json:"region,omitempty"`
	DeliveryType  DeliveryType  `json:"deliveryType"`
	Amount        pricing.Money `json:"amount"`
	Pending       bool          `json:"pending"`
	EstimatedDays int           `json:"estimatedDays,omitempty"`
}

// Quote resolves the cost for region, reporting Pending when no region is set.
func (t RateTable) Quote(region string, deliveryType DeliveryType) (Quote, error) {
	q := Quote{DeliveryType: deliveryType}
	amount, err := t.CostForRegion(region, deliveryType)
	if errors.Is(err, ErrRegionRequired) {
		q.Pending = true
		return q, nil
	}
	if err != nil {
		return Quote{}, err
	}
	r, _ := LookupRegion(region)
	q.Region = &r
	q.Amount = amount
	return q, nil
}

// EstimatedDays is the delivery lead time. It does not depend on the zone.
func EstimatedDays(deliveryType DeliveryType) int {
	if deliveryType == DeliveryOffice {
		return 2
	}
	return 3
}

// EstimatedDelivery returns the expected delivery instant for an order placed at from.
func EstimatedDelivery(from time.Time, deliveryType DeliveryType) time.Time {
	return from.AddDate(0, 0, EstimatedDays(deliveryType))
}
