package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

var (
	// ErrNotFound is returned when a product, variant or store does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when a catalog replacement fails validation.
	ErrInvalidInput = errors.New("invalid catalog input")
)

// Variant is a purchasable option of a product with its own price delta and stock.
type Variant struct {
	ID            string        `json:"id" validate:"required"`
	Name          string        `json:"name" validate:"required"`
	PriceModifier pricing.Money `json:"priceModifier"`
	Stock         int           `json:"stock" validate:"min=0"`
}

// Product is a catalog entry sold by exactly one store.
type Product struct {
	ID             string        `json:"id" validate:"required"`
	StoreID        string        `json:"storeId" validate:"required"`
	Name           string        `json:"name" validate:"required"`
	Description    string        `json:"description,omitempty"`
	Category       string        `json:"category,omitempty"`
	BasePrice      pricing.Money `json:"basePrice" validate:"min=0"`
	Stock          int           `json:"stock" validate:"min=0"`
	IsFreeShipping bool          `json:"isFreeShipping"`
	Images         []string      `json:"images,omitempty"`
	Variants       []Variant     `json:"variants,omitempty" validate:"dive"`
}

// Variant returns the product variant with the given id.
func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// InStock reports whether the product or any of its variants has stock left.
func (p Product) InStock() bool {
	if len(p.Variants) == 0 {
		return p.Stock > 0
	}
	for _, v := range p.Variants {
		if v.Stock > 0 {
			return true
		}
	}
	return false
}

// Store is a seller whose products ship together.
type Store struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Region      string `json:"region,omitempty"`
}

// ListParams filters and pages the public product listing.
type ListParams struct {
	Query        string
	StoreID      string
	Category     string
	InStock      *bool
	FreeShipping *bool
	Sort         string
	Page         int
	Limit        int
}

// ListResult is one page of products.
type ListResult struct {
	Items []Product
	Total int
	Page  int
	Limit int
}

// ServiceConfig wires the catalog to its persistence.
type ServiceConfig struct {
	KV           store.KV
	Logger       zerolog.Logger
	SeedProducts []Product
	SeedStores   []Store
	DefaultLimit int
	MaxLimit     int
}

// Service holds the product and store catalog in memory, mirrored to the KV.
type Service struct {
	mu       sync.RWMutex
	products []Product
	stores   []Store

	productSnap store.Snapshot[[]Product]
	storeSnap   store.Snapshot[[]Store]
	seedProds   []Product
	seedStores  []Store
	logger      zerolog.Logger

	defaultLimit int
	maxLimit     int
}

// NewService constructs a catalog service. Call Load to populate it.
func NewService(cfg ServiceConfig) *Service {
	seedProds := cfg.SeedProducts
	if seedProds == nil {
		seedProds = SeedProducts()
	}
	seedStores := cfg.SeedStores
	if seedStores == nil {
		seedStores = SeedStores()
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		productSnap:  store.NewSnapshot[[]Product](cfg.KV, store.KeyProducts, cfg.Logger),
		storeSnap:    store.NewSnapshot[[]Store](cfg.KV, store.KeyStores, cfg.Logger),
		seedProds:    seedProds,
		seedStores:   seedStores,
		logger:       cfg.Logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// LoadProducts returns the persisted product list, or false when absent or corrupt.
func (s *Service) LoadProducts(ctx context.Context) ([]Product, bool) {
	return s.productSnap.Load(ctx)
}

// LoadStores returns the persisted store list, or false when absent or corrupt.
func (s *Service) LoadStores(ctx context.Context) ([]Store, bool) {
	return s.storeSnap.Load(ctx)
}

// Load populates the in-memory catalog from storage, falling back to seed data.
func (s *Service) Load(ctx context.Context) {
	products, ok := s.LoadProducts(ctx)
	if !ok {
		products = cloneProducts(s.seedProds)
		s.logger.Info().Int("count", len(products)).Msg("catalog: using seed products")
	}
	stores, ok := s.LoadStores(ctx)
	if !ok {
		stores = append([]Store(nil), s.seedStores...)
		s.logger.Info().Int("count", len(stores)).Msg("catalog: using seed stores")
	}
	s.mu.Lock()
	s.products = products
	s.stores = stores
	s.mu.Unlock()
}

// SaveProducts validates and replaces the whole product list. Persistence is
// best effort: a storage failure is logged and the new list stays in memory.
func (s *Service) SaveProducts(ctx context.Context, products []Product) error {
	if err := s.validateProducts(products); err != nil {
		return err
	}
	list := cloneProducts(products)
	s.mu.Lock()
	s.products = list
	s.mu.Unlock()
	s.productSnap.Save(context.WithoutCancel(ctx), list)
	return nil
}

// SaveStores validates and replaces the store list.
func (s *Service) SaveStores(ctx context.Context, stores []Store) error {
	seen := make(map[string]struct{}, len(stores))
	for i, st := range stores {
		if err := common.ValidateStruct(st, ErrInvalidInput); err != nil {
			return err
		}
		if _, dup := seen[st.ID]; dup {
			return common.BadRequest(fmt.Sprintf("stores[%d].id", i), "duplicate store id", fmt.Errorf("store %s: %w", st.ID, ErrInvalidInput))
		}
		seen[st.ID] = struct{}{}
	}
	list := append([]Store(nil), stores...)
	s.mu.Lock()
	s.stores = list
	s.mu.Unlock()
	s.storeSnap.Save(context.WithoutCancel(ctx), list)
	return nil
}

func (s *Service) validateProducts(products []Product) error {
	s.mu.RLock()
	known := make(map[string]struct{}, len(s.stores))
	for _, st := range s.stores {
		known[st.ID] = struct{}{}
	}
	s.mu.RUnlock()

	seen := make(map[string]struct{}, len(products))
	for i, p := range products {
		if err := common.ValidateStruct(p, ErrInvalidInput); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return common.BadRequest(fmt.Sprintf("products[%d].id", i), "duplicate product id", fmt.Errorf("product %s: %w", p.ID, ErrInvalidInput))
		}
		seen[p.ID] = struct{}{}
		if _, ok := known[p.StoreID]; !ok {
			return common.BadRequest(fmt.Sprintf("products[%d].storeId", i), "unknown store", fmt.Errorf("store %s: %w", p.StoreID, ErrInvalidInput))
		}
		for _, v := range p.Variants {
			if p.BasePrice+v.PriceModifier < 0 {
				return common.BadRequest(fmt.Sprintf("products[%d].variants", i), "variant price cannot be negative", fmt.Errorf("variant %s: %w", v.ID, ErrInvalidInput))
			}
		}
	}
	return nil
}

// Products returns a copy of every product.
func (s *Service) Products() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProducts(s.products)
}

// Stores returns a copy of every store.
func (s *Service) Stores() []Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Store(nil), s.stores...)
}

// Product looks up one product by id.
func (s *Service) Product(id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.ID == id {
			return cloneProduct(p), nil
		}
	}
	return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
}

// Store looks up one store by id.
func (s *Service) Store(id string) (Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stores {
		if st.ID == id {
			return st, nil
		}
	}
	return Store{}, fmt.Errorf("store %s: %w", id, ErrNotFound)
}

// ParseListParams normalises raw query values into typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{Page: 1, Limit: s.defaultLimit}
	params.Query = strings.TrimSpace(values.Get("q"))
	params.StoreID = strings.TrimSpace(values.Get("store"))
	params.Category = strings.TrimSpace(values.Get("category"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, common.BadRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			return params, common.BadRequest("limit", "limit must be a positive integer", err)
		}
		params.Limit = l
	}
	if params.Limit > s.maxLimit {
		params.Limit = s.maxLimit
	}
	for field, dst := range map[string]**bool{"inStock": &params.InStock, "freeShipping": &params.FreeShipping} {
		if v := strings.TrimSpace(values.Get(field)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return params, common.BadRequest(field, field+" must be true or false", err)
			}
			*dst = &b
		}
	}
	switch sortKey := strings.ToLower(strings.TrimSpace(values.Get("sort"))); sortKey {
	case "", "name", "price_asc", "price_desc":
		params.Sort = sortKey
	default:
		return params, common.BadRequest("sort", "sort must be one of name, price_asc, price_desc", fmt.Errorf("sort %q", sortKey))
	}
	return params, nil
}

// ListProducts filters, sorts and pages the catalog.
func (s *Service) ListProducts(params ListParams) ListResult {
	query := strings.ToLower(params.Query)
	var matched []Product
	for _, p := range s.Products() {
		if params.StoreID != "" && p.StoreID != params.StoreID {
			continue
		}
		if params.Category != "" && !strings.EqualFold(p.Category, params.Category) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		if params.InStock != nil && p.InStock() != *params.InStock {
			continue
		}
		if params.FreeShipping != nil && p.IsFreeShipping != *params.FreeShipping {
			continue
		}
		matched = append(matched, p)
	}
	switch params.Sort {
	case "name":
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	case "price_asc":
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].BasePrice < matched[j].BasePrice })
	case "price_desc":
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].BasePrice > matched[j].BasePrice })
	}
	page, meta := common.Paginate(matched, params.Page, params.Limit)
	return ListResult{Items: page, Total: meta.TotalItems, Page: params.Page, Limit: params.Limit}
}

func cloneProduct(p Product) Product {
	p.Variants = append([]Variant(nil), p.Variants...)
	p.Images = append([]string(nil), p.Images...)
	return p
}

func cloneProducts(in []Product) []Product {
	out := make([]Product, len(in))
	for i, p := range in {
		out[i] = cloneProduct(p)
	}
	return out
}
