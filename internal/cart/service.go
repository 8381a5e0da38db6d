package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
)

// Catalog resolves products and stores for cart lines.
type Catalog interface {
	Product(id string) (catalog.Product, error)
	Store(id string) (catalog.Store, error)
}

type session struct {
	mu   sync.Mutex
	cart *Cart
}

// Service keeps shopper carts in memory. Mutations on one cart are serialised.
type Service struct {
	Catalog  Catalog
	TTL      time.Duration
	FlatRate pricing.Money
	Now      func() time.Time
	Logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// View is the cart as presented to the storefront, with derived totals.
type View struct {
	Cart
	TotalItems   int           `json:"totalItems"`
	TotalPrice   pricing.Money `json:"totalPrice"`
	ShippingCost pricing.Money `json:"shippingCost"`
	Groups       []StoreGroup  `json:"groups"`
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) flatRate() pricing.Money {
	if s.FlatRate <= 0 {
		return shipping.DefaultFlatRate
	}
	return s.FlatRate
}

// Create opens a new empty cart.
func (s *Service) Create(ctx context.Context) Cart {
	now := s.now()
	c := &Cart{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	s.sessions[c.ID] = &session{cart: c}
	s.mu.Unlock()
	return c.Clone()
}

func (s *Service) session(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", id, ErrNotFound)
	}
	return sess, nil
}

// WithCart runs fn with exclusive access to the cart. UpdatedAt is refreshed
// when fn succeeds; an expired cart is reported as not found.
func (s *Service) WithCart(ctx context.Context, id string, fn func(*Cart) error) (Cart, error) {
	if err := ctx.Err(); err != nil {
		return Cart{}, err
	}
	sess, err := s.session(id)
	if err != nil {
		return Cart{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.now().Sub(sess.cart.UpdatedAt) > s.ttl() {
		return Cart{}, fmt.Errorf("cart %s expired: %w", id, ErrNotFound)
	}
	if fn != nil {
		if err := fn(sess.cart); err != nil {
			return Cart{}, err
		}
		sess.cart.UpdatedAt = s.now()
	}
	return sess.cart.Clone(), nil
}

// Get returns a copy of the cart.
func (s *Service) Get(ctx context.Context, id string) (Cart, error) {
	return s.WithCart(ctx, id, nil)
}

// Add resolves productID through the catalog and adds it to the cart.
func (s *Service) Add(ctx context.Context, cartID, productID, variantID string, qty int) (Cart, error) {
	if s.Catalog == nil {
		return Cart{}, errors.New("cart catalog not configured")
	}
	if qty < 1 {
		return Cart{}, fmt.Errorf("quantity %d: %w", qty, ErrInvalidInput)
	}
	product, err := s.Catalog.Product(productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Cart{}, fmt.Errorf("product %s: %w", productID, ErrInvalidInput)
		}
		return Cart{}, err
	}
	st, err := s.Catalog.Store(product.StoreID)
	if err != nil {
		return Cart{}, fmt.Errorf("store of product %s: %w", productID, err)
	}
	return s.WithCart(ctx, cartID, func(c *Cart) error {
		_, err := c.Add(product, st, qty, variantID)
		return err
	})
}

// UpdateQuantity sets a line's quantity, removing it when qty <= 0.
func (s *Service) UpdateQuantity(ctx context.Context, cartID, lineID string, qty int) (Cart, error) {
	return s.WithCart(ctx, cartID, func(c *Cart) error {
		return c.SetQuantity(lineID, qty)
	})
}

// Remove deletes a line from the cart.
func (s *Service) Remove(ctx context.Context, cartID, lineID string) (Cart, error) {
	return s.WithCart(ctx, cartID, func(c *Cart) error {
		return c.Remove(lineID)
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, cartID string) (Cart, error) {
	return s.WithCart(ctx, cartID, func(c *Cart) error {
		c.Clear()
		return nil
	})
}

// View decorates c with its derived totals.
func (s *Service) View(c Cart) View {
	return View{
		Cart:         c,
		TotalItems:   c.TotalItems(),
		TotalPrice:   c.TotalPrice(),
		ShippingCost: c.ShippingCost(s.flatRate()),
		Groups:       c.Groups(),
	}
}

// Sweep drops carts idle for longer than the TTL and returns how many were removed.
func (s *Service) Sweep() int {
	cutoff := s.now().Add(-s.ttl())
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := sess.cart.UpdatedAt.Before(cutoff)
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.Logger.Debug().Int("removed", removed).Msg("cart: swept expired carts")
	}
	return removed
}
