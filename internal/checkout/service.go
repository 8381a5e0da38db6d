package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/tiny-treasure/internal/cart"
	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/obs"
	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
)

var (
	// ErrInvalidInput is returned for malformed checkout requests.
	ErrInvalidInput = errors.New("invalid checkout input")
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
)

// Input is a checkout request.
type Input struct {
	CartID       string         `json:"cartId" validate:"required"`
	Customer     order.Customer `json:"customer"`
	DeliveryType string         `json:"deliveryType"`
}

// Service splits a cart into one order per store and commits them together.
type Service struct {
	Carts   *cart.Service
	Orders  *order.Repository
	Rates   shipping.RateTable
	Numbers NumberSource
	Events  *events.Bus
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Compose validates the request, builds every store's order, commits the batch
// and only then clears the cart. On any failure nothing is persisted and the
// cart is left as it was.
func (s *Service) Compose(ctx context.Context, in Input) (_ []order.Order, err error) {
	ctx, span := obs.Tracer("checkout").Start(ctx, "checkout.Compose")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if s == nil || s.Carts == nil || s.Orders == nil || s.Numbers == nil {
		return nil, errors.New("checkout service not configured")
	}

	deliveryType, region, err := s.validate(in)
	if err != nil {
		obs.IncCheckoutFailure("validation")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("checkout.cart_id", in.CartID),
		attribute.String("checkout.region", region.Name),
		attribute.String("checkout.delivery_type", string(deliveryType)),
	)

	var composed []order.Order
	_, err = s.Carts.WithCart(ctx, in.CartID, func(c *cart.Cart) error {
		if len(c.Lines) == 0 {
			return ErrEmptyCart
		}
		orders, err := s.build(c.Groups(), in.Customer, region, deliveryType)
		if err != nil {
			return err
		}
		if err := s.Orders.CreateBatch(ctx, orders); err != nil {
			return fmt.Errorf("commit orders: %w", err)
		}
		c.Clear()
		composed = orders
		return nil
	})
	if err != nil {
		obs.IncCheckoutFailure(failureReason(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("checkout.orders", len(composed)))
	for _, o := range composed {
		obs.IncOrdersComposed(o.Store.ID)
		if s.Events == nil {
			continue
		}
		if _, emitErr := s.Events.Emit(ctx, events.TopicOrderCreated, o.ID, map[string]any{
			"orderId":     o.ID,
			"orderNumber": o.Number,
			"storeId":     o.Store.ID,
			"finalTotal":  o.FinalTotal,
		}); emitErr != nil {
			s.Logger.Error().Err(emitErr).Str("order_id", o.ID).Msg("checkout: emit order.created")
		}
	}
	s.Logger.Info().Str("cart_id", in.CartID).Int("orders", len(composed)).Msg("checkout: orders composed")
	return composed, nil
}

func (s *Service) validate(in Input) (shipping.DeliveryType, shipping.Region, error) {
	in.Customer.Region = strings.TrimSpace(in.Customer.Region)
	if err := common.ValidateStructExcept(in, ErrInvalidInput, "Customer.Region"); err != nil {
		return "", shipping.Region{}, err
	}
	if in.Customer.Region == "" {
		return "", shipping.Region{}, common.NewAppError("REGION_REQUIRED", "select a delivery region before checkout", http.StatusUnprocessableEntity, shipping.ErrRegionRequired)
	}
	deliveryType, err := shipping.ParseDeliveryType(in.DeliveryType)
	if err != nil {
		return "", shipping.Region{}, common.BadRequest("deliveryType", "deliveryType must be home or office", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	if deliveryType == shipping.DeliveryHome && strings.TrimSpace(in.Customer.Address) == "" {
		return "", shipping.Region{}, common.BadRequest("customer.address", "address is required for home delivery", ErrInvalidInput)
	}
	region, ok := shipping.LookupRegion(in.Customer.Region)
	if !ok {
		return "", shipping.Region{}, common.BadRequest("customer.region", "unknown region", fmt.Errorf("%w: %w", ErrInvalidInput, shipping.ErrUnknownRegion))
	}
	return deliveryType, region, nil
}

func (s *Service) build(groups []cart.StoreGroup, customer order.Customer, region shipping.Region, deliveryType shipping.DeliveryType) ([]order.Order, error) {
	now := s.now()
	customer.Region = region.Name
	orders := make([]order.Order, 0, len(groups))
	for _, g := range groups {
		items := make([]order.Item, 0, len(g.Lines))
		priced := make([]pricing.Item, 0, len(g.Lines))
		for _, l := range g.Lines {
			unit, total := l.Totals()
			item := order.Item{
				ProductID:   l.Product.ID,
				ProductName: l.Product.Name,
				UnitPrice:   unit,
				Quantity:    l.Quantity,
				LineTotal:   total,
			}
			if l.Variant != nil {
				item.VariantID = l.Variant.ID
				item.VariantName = l.Variant.Name
			}
			items = append(items, item)
			priced = append(priced, pricing.Item{Qty: l.Quantity, UnitPrice: unit})
		}
		var shippingCost pricing.Money
		if !g.FreeShipping() {
			cost, err := s.Rates.CostForZone(region.Zone, deliveryType)
			if err != nil {
				return nil, fmt.Errorf("shipping for store %s: %w", g.Store.ID, err)
			}
			shippingCost = cost
		}
		summary := pricing.Compute(priced, shippingCost)
		r := region
		orders = append(orders, order.Order{
			ID:                uuid.NewString(),
			Number:            s.Numbers.Next(),
			Store:             order.StoreRef{ID: g.Store.ID, Name: g.Store.Name},
			Customer:          customer,
			Items:             items,
			TotalAmount:       summary.Subtotal,
			ShippingCost:      summary.Shipping,
			FinalTotal:        summary.Total,
			Status:            order.StatusPending,
			DeliveryType:      deliveryType,
			Region:            &r,
			CreatedAt:         now,
			UpdatedAt:         now,
			EstimatedDelivery: shipping.EstimatedDelivery(now, deliveryType),
		})
	}
	return orders, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, cart.ErrNotFound):
		return "cart_not_found"
	case errors.Is(err, order.ErrInvalidInput), errors.Is(err, order.ErrDuplicate):
		return "commit"
	default:
		return "internal"
	}
}

// StoreQuote is the shipping preview for one store group.
type StoreQuote struct {
	StoreID      string        `json:"storeId"`
	StoreName    string        `json:"storeName"`
	Subtotal     pricing.Money `json:"subtotal"`
	Shipping     pricing.Money `json:"shipping"`
	FreeShipping bool          `json:"freeShipping"`
	Pending      bool          `json:"pending"`
	Total        pricing.Money `json:"total"`
}

// CartQuote previews per-store shipping for a cart and destination.
type CartQuote struct {
	Region       *shipping.Region      `json:"region,omitempty"`
	DeliveryType shipping.DeliveryType `json:"deliveryType"`
	Stores       []StoreQuote          `json:"stores"`
	Shipping     pricing.Money         `json:"shipping"`
	Pending      bool                  `json:"pending"`
	Total        pricing.Money         `json:"total"`
}

// Quote previews shipping for every store group in the cart. With no region the
// non-free groups are reported as pending rather than free.
func (s *Service) Quote(ctx context.Context, cartID, region string, deliveryType shipping.DeliveryType) (CartQuote, error) {
	c, err := s.Carts.Get(ctx, cartID)
	if err != nil {
		return CartQuote{}, err
	}
	out := CartQuote{DeliveryType: deliveryType}
	for _, g := range c.Groups() {
		sq := StoreQuote{StoreID: g.Store.ID, StoreName: g.Store.Name, Subtotal: g.Subtotal(), FreeShipping: g.FreeShipping()}
		if !sq.FreeShipping {
			q, err := s.Rates.Quote(region, deliveryType)
			if err != nil {
				return CartQuote{}, err
			}
			out.Region = q.Region
			sq.Pending = q.Pending
			sq.Shipping = q.Amount
		}
		sq.Total = sq.Subtotal + sq.Shipping
		out.Pending = out.Pending || sq.Pending
		out.Shipping += sq.Shipping
		out.Total += sq.Total
		out.Stores = append(out.Stores, sq)
	}
	return out, nil
}
