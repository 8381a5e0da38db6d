package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
)

// ErrInvalidRange is returned when from is not before to.
var ErrInvalidRange = errors.New("from must be before to")

// Orders is the order listing analytics aggregates over.
type Orders interface {
	List(f order.Filter) []order.Order
}

// SalesDay is one calendar day (UTC) of non-cancelled orders.
type SalesDay struct {
	Day      string        `json:"day"`
	Orders   int           `json:"orders"`
	Items    int           `json:"items"`
	Revenue  pricing.Money `json:"revenue"`
	Shipping pricing.Money `json:"shipping"`
	Total    pricing.Money `json:"total"`
}

// TopProduct ranks a product by units sold.
type TopProduct struct {
	ProductID   string        `json:"productId"`
	ProductName string        `json:"productName"`
	StoreID     string        `json:"storeId"`
	Quantity    int           `json:"quantity"`
	Revenue     pricing.Money `json:"revenue"`
}

// StoreSales totals one store's non-cancelled orders.
type StoreSales struct {
	StoreID   string        `json:"storeId"`
	StoreName string        `json:"storeName"`
	Orders    int           `json:"orders"`
	Revenue   pricing.Money `json:"revenue"`
}

// Overview summarises the whole order book.
type Overview struct {
	Orders       int                  `json:"orders"`
	Revenue      pricing.Money        `json:"revenue"`
	Shipping     pricing.Money        `json:"shipping"`
	AverageOrder pricing.Money        `json:"averageOrder"`
	ByStatus     map[order.Status]int `json:"byStatus"`
	ByStore      []StoreSales         `json:"byStore"`
}

// Service aggregates orders into dashboard views, optionally caching results in Redis.
type Service struct {
	Orders       Orders
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

func counted(o order.Order) bool {
	return o.Status != order.StatusCancelled
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SalesRange returns one row per UTC day in [from, to), including empty days.
func (s *Service) SalesRange(ctx context.Context, from, to time.Time) ([]SalesDay, error) {
	if s == nil || s.Orders == nil {
		return nil, errors.New("analytics service not configured")
	}
	from, to = dayStart(from), dayStart(to)
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	key := cacheKey("an", "sales", from.Format(time.DateOnly), to.Format(time.DateOnly))
	var rows []SalesDay
	if s.load(ctx, key, &rows) {
		return rows, nil
	}

	index := make(map[string]int)
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		index[d.Format(time.DateOnly)] = len(rows)
		rows = append(rows, SalesDay{Day: d.Format(time.DateOnly)})
	}
	for _, o := range s.Orders.List(order.Filter{}) {
		if !counted(o) {
			continue
		}
		i, ok := index[o.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		rows[i].Orders++
		for _, it := range o.Items {
			rows[i].Items += it.Quantity
		}
		rows[i].Revenue += o.TotalAmount
		rows[i].Shipping += o.ShippingCost
		rows[i].Total += o.FinalTotal
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopProducts ranks products by units sold, then revenue, then id.
func (s *Service) TopProducts(ctx context.Context, limit, offset int) ([]TopProduct, error) {
	if s == nil || s.Orders == nil {
		return nil, errors.New("analytics service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	key := cacheKey("an", "top", limit, offset)
	var rows []TopProduct
	if s.load(ctx, key, &rows) {
		return rows, nil
	}

	byID := make(map[string]*TopProduct)
	for _, o := range s.Orders.List(order.Filter{}) {
		if !counted(o) {
			continue
		}
		for _, it := range o.Items {
			p, ok := byID[it.ProductID]
			if !ok {
				p = &TopProduct{ProductID: it.ProductID, ProductName: it.ProductName, StoreID: o.Store.ID}
				byID[it.ProductID] = p
			}
			p.Quantity += it.Quantity
			p.Revenue += it.LineTotal
		}
	}
	all := make([]TopProduct, 0, len(byID))
	for _, p := range byID {
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Quantity != all[j].Quantity {
			return all[i].Quantity > all[j].Quantity
		}
		if all[i].Revenue != all[j].Revenue {
			return all[i].Revenue > all[j].Revenue
		}
		return all[i].ProductID < all[j].ProductID
	})
	rows = []TopProduct{}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		rows = all[offset:end]
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// Overview counts every order by status and totals non-cancelled ones per store.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	if s == nil || s.Orders == nil {
		return Overview{}, errors.New("analytics service not configured")
	}
	var ov Overview
	if s.load(ctx, cacheKey("an", "overview"), &ov) {
		return ov, nil
	}
	ov = Overview{ByStatus: make(map[order.Status]int)}
	stores := make(map[string]*StoreSales)
	for _, o := range s.Orders.List(order.Filter{}) {
		ov.ByStatus[o.Status]++
		if !counted(o) {
			continue
		}
		ov.Orders++
		ov.Revenue += o.TotalAmount
		ov.Shipping += o.ShippingCost
		st, ok := stores[o.Store.ID]
		if !ok {
			st = &StoreSales{StoreID: o.Store.ID, StoreName: o.Store.Name}
			stores[o.Store.ID] = st
		}
		st.Orders++
		st.Revenue += o.TotalAmount
	}
	if ov.Orders > 0 {
		ov.AverageOrder = pricing.Money(float64(ov.Revenue)/float64(ov.Orders) + 0.5)
	}
	ov.ByStore = make([]StoreSales, 0, len(stores))
	for _, st := range stores {
		ov.ByStore = append(ov.ByStore, *st)
	}
	sort.Slice(ov.ByStore, func(i, j int) bool {
		if ov.ByStore[i].Revenue != ov.ByStore[j].Revenue {
			return ov.ByStore[i].Revenue > ov.ByStore[j].Revenue
		}
		return ov.ByStore[i].StoreID < ov.ByStore[j].StoreID
	})
	s.store(ctx, cacheKey("an", "overview"), ov)
	return ov, nil
}

func (s *Service) load(ctx context.Context, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
