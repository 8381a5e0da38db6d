package checkout_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/cart"
	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/checkout"
	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

var now = time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)

// fixedNumbers always returns the same number, so a multi-store batch collides.
type fixedNumbers struct{}

func (fixedNumbers) Next() string { return "TT-FIXED" }

type fixture struct {
	svc    *checkout.Service
	carts  *cart.Service
	orders *order.Repository
	log    *events.MemoryLog
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cat := catalog.NewService(catalog.ServiceConfig{KV: store.NewMemory(), Logger: zerolog.Nop()})
	cat.Load(context.Background())
	carts := &cart.Service{Catalog: cat, Now: func() time.Time { return now }}
	orders := order.NewRepository(store.NewMemory(), zerolog.Nop())
	numbers, err := checkout.NewSnowflakeNumbers(7)
	require.NoError(t, err)
	log := &events.MemoryLog{}
	svc := &checkout.Service{
		Carts:   carts,
		Orders:  orders,
		Rates:   shipping.DefaultRates(),
		Numbers: numbers,
		Events:  &events.Bus{Store: log},
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return now },
	}
	return fixture{svc: svc, carts: carts, orders: orders, log: log}
}

func customer(region string) order.Customer {
	return order.Customer{FullName: "Karim Haddad", Phone: "0661234567", Region: region, City: region, Address: "12 rue Didouche Mourad"}
}

func (f fixture) cartWith(t *testing.T, lines ...[3]any) string {
	t.Helper()
	ctx := context.Background()
	c := f.carts.Create(ctx)
	for _, l := range lines {
		_, err := f.carts.Add(ctx, c.ID, l[0].(string), l[1].(string), l[2].(int))
		require.NoError(t, err)
	}
	return c.ID
}

func TestComposeSplitsByStore(t *testing.T) {
	f := newFixture(t)
	cartID := f.cartWith(t,
		[3]any{"prod-necklace", "long", 2}, // atelier 4000 x2
		[3]any{"prod-plush", "large", 1},   // kids 2200
		[3]any{"prod-romper", "6-12m", 2},  // kids 2600 x2
	)

	orders, err := f.svc.Compose(context.Background(), checkout.Input{CartID: cartID, Customer: customer("Oran"), DeliveryType: "home"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.NotEqual(t, orders[0].Number, orders[1].Number)
	require.True(t, strings.HasPrefix(orders[0].Number, "TT-"))

	byStore := map[string]order.Order{}
	for _, o := range orders {
		require.Equal(t, o.TotalAmount+o.ShippingCost, o.FinalTotal)
		require.Equal(t, order.StatusPending, o.Status)
		require.Equal(t, now.AddDate(0, 0, 3), o.EstimatedDelivery)
		byStore[o.Store.ID] = o
	}
	atelier := byStore["store-atelier"]
	require.Equal(t, pricing.Money(8000), atelier.TotalAmount)
	require.Equal(t, pricing.Money(700), atelier.ShippingCost)
	require.Equal(t, pricing.Money(4000), atelier.Items[0].UnitPrice)

	kids := byStore["store-kids"]
	require.Equal(t, pricing.Money(2200+5200), kids.TotalAmount)
	require.Equal(t, pricing.Money(700), kids.ShippingCost)
	require.Len(t, kids.Items, 2)

	c, err := f.carts.Get(context.Background(), cartID)
	require.NoError(t, err)
	require.Empty(t, c.Lines)
	require.Len(t, f.orders.List(order.Filter{}), 2)
	require.Len(t, f.log.Recent(0), 2)
}

func TestComposeFreeShippingOverride(t *testing.T) {
	f := newFixture(t)
	cartID := f.cartWith(t,
		[3]any{"prod-necklace", "", 1},
		[3]any{"prod-bracelet", "", 1},
	)
	orders, err := f.svc.Compose(context.Background(), checkout.Input{CartID: cartID, Customer: customer("Tamanrasset"), DeliveryType: "office"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, pricing.Money(0), orders[0].ShippingCost)
	require.Equal(t, orders[0].TotalAmount, orders[0].FinalTotal)
	require.Equal(t, now.AddDate(0, 0, 2), orders[0].EstimatedDelivery)
}

func TestComposeOfficeRate(t *testing.T) {
	f := newFixture(t)
	cartID := f.cartWith(t, [3]any{"prod-candle", "", 1})
	c := customer("Tamanrasset")
	c.Address = ""
	orders, err := f.svc.Compose(context.Background(), checkout.Input{CartID: cartID, Customer: c, DeliveryType: "office"})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(960), orders[0].ShippingCost)
	require.Equal(t, "Tamanrasset", orders[0].Region.Name)
}

func TestComposeIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.svc.Numbers = fixedNumbers{}
	cartID := f.cartWith(t,
		[3]any{"prod-necklace", "", 1},
		[3]any{"prod-plush", "", 1},
	)
	_, err := f.svc.Compose(context.Background(), checkout.Input{CartID: cartID, Customer: customer("Algiers")})
	require.ErrorIs(t, err, order.ErrDuplicate)

	require.Empty(t, f.orders.List(order.Filter{}))
	c, err := f.carts.Get(context.Background(), cartID)
	require.NoError(t, err)
	require.Len(t, c.Lines, 2)
	require.Empty(t, f.log.Recent(0))
}

func TestComposeRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cartID := f.cartWith(t, [3]any{"prod-candle", "", 1})

	_, err := f.svc.Compose(ctx, checkout.Input{CartID: cartID, Customer: order.Customer{FullName: "A"}})
	require.ErrorIs(t, err, checkout.ErrInvalidInput)
	require.True(t, common.IsAppError(err))

	_, err = f.svc.Compose(ctx, checkout.Input{CartID: cartID, Customer: customer("  ")})
	require.ErrorIs(t, err, shipping.ErrRegionRequired)
	require.NotErrorIs(t, err, checkout.ErrInvalidInput)

	_, err = f.svc.Compose(ctx, checkout.Input{CartID: cartID, Customer: customer("Atlantis")})
	require.ErrorIs(t, err, shipping.ErrUnknownRegion)

	_, err = f.svc.Compose(ctx, checkout.Input{CartID: cartID, Customer: customer("Oran"), DeliveryType: "drone"})
	require.ErrorIs(t, err, shipping.ErrInvalidDeliveryType)

	noAddr := customer("Oran")
	noAddr.Address = ""
	_, err = f.svc.Compose(ctx, checkout.Input{CartID: cartID, Customer: noAddr, DeliveryType: "home"})
	require.ErrorIs(t, err, checkout.ErrInvalidInput)

	_, err = f.svc.Compose(ctx, checkout.Input{CartID: "missing", Customer: customer("Oran")})
	require.ErrorIs(t, err, cart.ErrNotFound)

	empty := f.carts.Create(ctx)
	_, err = f.svc.Compose(ctx, checkout.Input{CartID: empty.ID, Customer: customer("Oran")})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	c, err := f.carts.Get(ctx, cartID)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
}

func TestQuotePendingWithoutRegion(t *testing.T) {
	f := newFixture(t)
	cartID := f.cartWith(t,
		[3]any{"prod-bracelet", "", 1},
		[3]any{"prod-plush", "", 1},
	)
	q, err := f.svc.Quote(context.Background(), cartID, "", shipping.DeliveryHome)
	require.NoError(t, err)
	require.True(t, q.Pending)
	require.Len(t, q.Stores, 2)
	require.True(t, q.Stores[0].FreeShipping)
	require.False(t, q.Stores[0].Pending)
	require.True(t, q.Stores[1].Pending)

	q, err = f.svc.Quote(context.Background(), cartID, "Constantine", shipping.DeliveryOffice)
	require.NoError(t, err)
	require.False(t, q.Pending)
	require.Equal(t, pricing.Money(480), q.Shipping)
	require.Equal(t, pricing.Money(1800+1500+480), q.Total)
}

func TestSnowflakeNumbersAreUnique(t *testing.T) {
	numbers, err := checkout.NewSnowflakeNumbers(1)
	require.NoError(t, err)
	seen := make(map[string]struct{}, 5000)
	for i := 0; i < 5000; i++ {
		n := numbers.Next()
		_, dup := seen[n]
		require.False(t, dup, n)
		seen[n] = struct{}{}
	}
	_, err = checkout.NewSnowflakeNumbers(5000)
	require.Error(t, err)
}

func TestCheckoutHandlerFlow(t *testing.T) {
	f := newFixture(t)
	h := &checkout.Handler{Svc: f.svc}
	r := chi.NewRouter()
	r.Post("/checkout", h.Checkout)
	r.Post("/carts/{id}/quote", h.Quote)

	cartID := f.cartWith(t, [3]any{"prod-candle", "", 2})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/carts/"+cartID+"/quote", strings.NewReader(`{"region":"Algiers"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"shipping":400`)

	body := fmt.Sprintf(`{"cartId":%q,"deliveryType":"home","customer":{"fullName":"Lina M.","phone":"0770112233","region":"Alger","city":"Alger","address":"5 rue Larbi Ben M'hidi"}}`, cartID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"grandTotal":2800`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	noRegion := fmt.Sprintf(`{"cartId":%q,"deliveryType":"office","customer":{"fullName":"Lina M.","phone":"0770112233","region":"","city":"Alger"}}`, cartID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(noRegion)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "REGION_REQUIRED")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"cartId":""}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}
