package commission_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/commission"
	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/queue"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

var placed = time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)

func deliverableOrder(id, number string) order.Order {
	return order.Order{
		ID:       id,
		Number:   number,
		Store:    order.StoreRef{ID: "store-kids", Name: "Tiny Treasure Kids"},
		Customer: order.Customer{FullName: "Nadia K.", Phone: "0550123456", Region: "Oran", City: "Oran"},
		Items: []order.Item{
			{ProductID: "prod-plush", ProductName: "Camel Plush Toy", VariantID: "small", UnitPrice: 1500, Quantity: 2, LineTotal: 3000},
			{ProductID: "prod-plush", ProductName: "Camel Plush Toy", VariantID: "large", UnitPrice: 2200, Quantity: 1, LineTotal: 2200},
			{ProductID: "prod-romper", ProductName: "Cotton Baby Romper", UnitPrice: 2400, Quantity: 1, LineTotal: 2400},
		},
		TotalAmount:  7600,
		ShippingCost: 700,
		FinalTotal:   8300,
		Status:       order.StatusPending,
		DeliveryType: shipping.DeliveryHome,
		CreatedAt:    placed,
		UpdatedAt:    placed,
	}
}

type env struct {
	orders *order.Service
	svc    *commission.Service
	sub    *commission.Subscriber
	bus    *events.Bus
}

func newEnv(t *testing.T, members ...string) env {
	t.Helper()
	repo := order.NewRepository(store.NewMemory(), zerolog.Nop())
	require.NoError(t, repo.CreateBatch(context.Background(), []order.Order{
		deliverableOrder("o-1", "TT-1"),
		deliverableOrder("o-2", "TT-2"),
	}))
	bus := &events.Bus{Store: &events.MemoryLog{}}
	ledger, _ := newLedger(t, store.NewMemory(), members...)
	svc := &commission.Service{Ledger: ledger, Orders: repo, Logger: zerolog.Nop()}
	sub := &commission.Subscriber{Service: svc, Logger: zerolog.Nop()}
	bus.Subscribe(sub)
	return env{
		orders: &order.Service{Repo: repo, Events: bus, Logger: zerolog.Nop()},
		svc:    svc,
		sub:    sub,
		bus:    bus,
	}
}

func TestDeliveredTransitionProcessesInline(t *testing.T) {
	e := newEnv(t, "Amina", "Yacine", "Sofiane")
	ctx := context.Background()

	_, err := e.orders.UpdateStatus(ctx, "o-1", order.StatusShipped)
	require.NoError(t, err)
	require.False(t, e.svc.Ledger.Processed("o-1"))

	_, err = e.orders.UpdateStatus(ctx, "o-1", order.StatusDelivered)
	require.NoError(t, err)
	require.True(t, e.svc.Ledger.Processed("o-1"))

	txs := e.svc.Ledger.Transactions(commission.TransactionFilter{OrderID: "o-1"})
	require.Len(t, txs, 2)
	for _, m := range e.svc.Ledger.TeamMembers() {
		require.InDelta(t, 200.0, m.TotalEarned, 1e-9)
	}

	// Re-applying delivered emits nothing, so balances do not move.
	_, err = e.orders.UpdateStatus(ctx, "o-1", order.StatusDelivered)
	require.NoError(t, err)
	require.Len(t, e.svc.Ledger.Transactions(commission.TransactionFilter{}), 2)
}

func TestDeliveredWithEmptyRosterReportsFollowUpFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	o, err := e.orders.UpdateStatus(ctx, "o-1", order.StatusDelivered)
	require.ErrorIs(t, err, order.ErrFollowUpFailed)
	require.ErrorIs(t, err, commission.ErrNoActiveMembers)
	require.Equal(t, order.StatusDelivered, o.Status)
	require.False(t, e.svc.Ledger.Processed("o-1"))
	require.Empty(t, e.svc.Ledger.Transactions(commission.TransactionFilter{}))

	// Re-applying delivered is not a transition; the order is recovered manually.
	_, err = e.orders.UpdateStatus(ctx, "o-1", order.StatusDelivered)
	require.NoError(t, err)
	require.False(t, e.svc.Ledger.Processed("o-1"))

	_, err = e.svc.Ledger.AddTeamMember(ctx, "Amina")
	require.NoError(t, err)
	txs, err := e.svc.ProcessOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.True(t, e.svc.Ledger.Processed("o-1"))
}

type unavailableLog struct{}

func (unavailableLog) Append(context.Context, events.Event) error {
	return errors.New("XADD: connection refused")
}

func TestDeliveredProcessesWhenEventLogIsDown(t *testing.T) {
	e := newEnv(t, "Amina", "Yacine", "Sofiane")
	e.bus.Store = unavailableLog{}

	o, err := e.orders.UpdateStatus(context.Background(), "o-1", order.StatusDelivered)
	require.ErrorIs(t, err, order.ErrFollowUpFailed)
	require.ErrorIs(t, err, events.ErrPersist)
	require.Equal(t, order.StatusDelivered, o.Status)
	require.True(t, e.svc.Ledger.Processed("o-1"))
	require.Len(t, e.svc.Ledger.Transactions(commission.TransactionFilter{OrderID: "o-1"}), 2)
}

func TestSubscriberSkipsWhenAutoDistributeOff(t *testing.T) {
	e := newEnv(t, "Amina")
	off := false
	_, err := e.svc.Ledger.UpdateSettings(context.Background(), commission.SettingsPatch{AutoDistribute: &off})
	require.NoError(t, err)

	_, err = e.orders.UpdateStatus(context.Background(), "o-1", order.StatusDelivered)
	require.NoError(t, err)
	require.False(t, e.svc.Ledger.Processed("o-1"))

	// The manual path still works.
	txs, err := e.svc.ProcessOrder(context.Background(), "TT-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Empty(t, txs[0].DistributionID)
}

func TestSubscriberSwallowsReplay(t *testing.T) {
	e := newEnv(t, "Amina")
	ctx := context.Background()
	_, err := e.orders.UpdateStatus(ctx, "o-1", order.StatusDelivered)
	require.NoError(t, err)

	ev, err := e.bus.Emit(ctx, events.TopicOrderDelivered, "o-1", events.OrderDelivered{OrderID: "o-1"})
	require.NoError(t, err)
	require.NoError(t, e.sub.Notify(ctx, ev))
	require.Len(t, e.svc.Ledger.Transactions(commission.TransactionFilter{}), 2)
}

func TestProcessOrderRequiresDelivered(t *testing.T) {
	e := newEnv(t, "Amina")
	_, err := e.svc.ProcessOrder(context.Background(), "o-2")
	require.ErrorIs(t, err, commission.ErrOrderNotDelivered)
	_, err = e.svc.ProcessOrder(context.Background(), "o-missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestProcessDeliveredBulk(t *testing.T) {
	e := newEnv(t, "Amina")
	ctx := context.Background()
	off := false
	_, err := e.svc.Ledger.UpdateSettings(ctx, commission.SettingsPatch{AutoDistribute: &off})
	require.NoError(t, err)
	for _, id := range []string{"o-1", "o-2"} {
		_, err := e.orders.UpdateStatus(ctx, id, order.StatusDelivered)
		require.NoError(t, err)
	}
	_, err = e.svc.ProcessOrder(ctx, "o-1")
	require.NoError(t, err)

	res, err := e.svc.ProcessDelivered(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 2, res.Transactions)
	require.Empty(t, res.Failed)
}

func TestSubscriberQueuesAndWorkerProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := newEnv(t, "Amina", "Yacine")
	e.sub.Queue = queue.Enqueuer{R: client, Prefix: "tt"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = e.orders.UpdateStatus(ctx, "o-1", order.StatusDelivered)
	require.NoError(t, err)
	require.False(t, e.svc.Ledger.Processed("o-1"))
	ready, err := client.ZCard(ctx, "tt:queue:"+commission.TaskKind).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)

	worker := queue.Worker{
		R:            client,
		Prefix:       "tt",
		Kind:         commission.TaskKind,
		PollInterval: 5 * time.Millisecond,
		Handler:      e.sub.HandleTask,
		Logger:       zerolog.Nop(),
	}
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.svc.Ledger.Processed("o-1") }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	for _, m := range e.svc.Ledger.TeamMembers() {
		require.InDelta(t, 300.0, m.TotalEarned, 1e-9)
	}
}

func TestAdminHandlers(t *testing.T) {
	e := newEnv(t, "Amina", "Yacine", "Sofiane")
	h := &commission.AdminHandler{Svc: e.svc}
	r := chi.NewRouter()
	r.Get("/summary", h.Summary)
	r.Get("/transactions", h.Transactions)
	r.Patch("/transactions/{id}", h.PatchTransaction)
	r.Post("/transactions/{id}/distribute", h.Distribute)
	r.Post("/orders/{id}/process", h.ProcessOrder)
	r.Get("/team", h.Team)
	r.Post("/team", h.AddMember)
	r.Get("/team/{id}/income", h.MemberIncome)
	r.Put("/settings", h.UpdateSettings)
	r.Get("/monthly", h.Monthly)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/orders/o-2/process", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	_, err := e.orders.UpdateStatus(context.Background(), "o-2", order.StatusDelivered)
	require.NoError(t, err)
	rec = do(http.MethodPost, "/orders/o-2/process", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalCompanyIncome":"600 DA"`)

	rec = do(http.MethodGet, "/transactions?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"prod-romper"`)

	rec = do(http.MethodPut, "/settings", `{"splitPolicy":"everyone"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	rec = do(http.MethodPost, "/team", `{"name":"Karim"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	member := e.svc.Ledger.TeamMembers()[0]
	rec = do(http.MethodGet, "/team/"+member.ID+"/income", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"display":"200 DA"`)

	rec = do(http.MethodGet, "/team/nobody/income", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	tx := e.svc.Ledger.Transactions(commission.TransactionFilter{})[0]
	rec = do(http.MethodPost, "/transactions/"+tx.ID+"/distribute", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPatch, "/transactions/"+tx.ID, `{"status":"refunded"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPatch, "/transactions/"+tx.ID, `{"status":"completed"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/monthly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"month":"January 2026"`)
}
