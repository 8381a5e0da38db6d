package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/store"
)

var (
	// ErrNotFound is returned when no order matches the id or number.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidInput is returned for malformed orders or filters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicate is returned when a batch reuses an existing id or number.
	ErrDuplicate = errors.New("duplicate order")
)

// Repository holds orders in memory and mirrors them to the KV.
type Repository struct {
	mu     sync.RWMutex
	saveMu sync.Mutex
	orders []Order
	byID   map[string]int
	byNum  map[string]int
	snap   store.Snapshot[[]Order]
	logger zerolog.Logger
}

// NewRepository constructs an empty repository persisting under store.KeyOrders.
func NewRepository(kv store.KV, logger zerolog.Logger) *Repository {
	return &Repository{
		byID:   make(map[string]int),
		byNum:  make(map[string]int),
		snap:   store.NewSnapshot[[]Order](kv, store.KeyOrders, logger),
		logger: logger,
	}
}

// Load restores persisted orders. Missing or corrupt data leaves the repository empty.
func (r *Repository) Load(ctx context.Context) {
	orders, ok := r.snap.Load(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = nil
	r.byID = make(map[string]int)
	r.byNum = make(map[string]int)
	if !ok {
		return
	}
	for _, o := range orders {
		if _, dup := r.byID[o.ID]; dup {
			r.logger.Warn().Str("order_id", o.ID).Msg("order: skip duplicate on load")
			continue
		}
		r.index(o)
	}
}

func (r *Repository) index(o Order) {
	r.byID[o.ID] = len(r.orders)
	r.byNum[o.Number] = len(r.orders)
	r.orders = append(r.orders, o)
}

// CreateBatch commits all orders or none. Each order must satisfy Validate and
// carry an id and number unused by existing orders and the rest of the batch.
func (r *Repository) CreateBatch(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return fmt.Errorf("empty batch: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	seenID := make(map[string]struct{}, len(orders))
	seenNum := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			r.mu.Unlock()
			return err
		}
		_, existsID := r.byID[o.ID]
		_, existsNum := r.byNum[o.Number]
		_, batchID := seenID[o.ID]
		_, batchNum := seenNum[o.Number]
		if existsID || existsNum || batchID || batchNum {
			r.mu.Unlock()
			return fmt.Errorf("order %s: %w", o.Number, ErrDuplicate)
		}
		seenID[o.ID] = struct{}{}
		seenNum[o.Number] = struct{}{}
	}
	for _, o := range orders {
		r.index(o.clone())
	}
	r.persistAndUnlock(ctx)
	return nil
}

// Get returns the order with the given id or order number.
func (r *Repository) Get(idOrNumber string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.byID[idOrNumber]; ok {
		return r.orders[i].clone(), nil
	}
	if i, ok := r.byNum[idOrNumber]; ok {
		return r.orders[i].clone(), nil
	}
	return Order{}, fmt.Errorf("order %s: %w", idOrNumber, ErrNotFound)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status  Status
	StoreID string
}

// List returns matching orders, newest first.
func (r *Repository) List(f Filter) []Order {
	r.mu.RLock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.StoreID != "" && o.Store.ID != f.StoreID {
			continue
		}
		out = append(out, o.clone())
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Update applies fn to a copy of the order and stores the result when fn
// succeeds. It returns the order as it was before and after the change.
func (r *Repository) Update(ctx context.Context, id string, fn func(*Order) error) (before, after Order, err error) {
	r.mu.Lock()
	i, ok := r.byID[id]
	if !ok {
		i, ok = r.byNum[id]
	}
	if !ok {
		r.mu.Unlock()
		return Order{}, Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	before = r.orders[i].clone()
	next := before.clone()
	if err := fn(&next); err != nil {
		r.mu.Unlock()
		return Order{}, Order{}, err
	}
	next.ID, next.Number = before.ID, before.Number
	r.orders[i] = next
	r.persistAndUnlock(ctx)
	return before, next.clone(), nil
}

// persistAndUnlock snapshots under r.mu, then writes outside it. saveMu is taken
// before r.mu is released so writes land in mutation order.
func (r *Repository) persistAndUnlock(ctx context.Context) {
	out := make([]Order, len(r.orders))
	for i, o := range r.orders {
		out[i] = o.clone()
	}
	r.saveMu.Lock()
	r.mu.Unlock()
	defer r.saveMu.Unlock()
	r.snap.Save(context.WithoutCancel(ctx), out)
}
