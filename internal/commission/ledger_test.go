package commission_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/commission"
	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/lock"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newLedger(t *testing.T, kv store.KV, members ...string) (*commission.Ledger, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)}
	l := commission.NewLedger(commission.LedgerConfig{
		KV:       kv,
		Logger:   zerolog.Nop(),
		Now:      c.Now,
		Settings: commission.DefaultSettings(),
		Members:  members,
	})
	l.Load(context.Background())
	return l, c
}

func twoProducts() []commission.SaleLine {
	return []commission.SaleLine{
		{ProductID: "prod-necklace", ProductName: "Silver Pearl Necklace", StoreID: "store-atelier", SaleAmount: 8000},
		{ProductID: "prod-bracelet", ProductName: "Berber Charm Bracelet", StoreID: "store-atelier", SaleAmount: 1800},
	}
}

func TestFlatRateSplitAcrossThreeMembers(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina", "Yacine", "Sofiane")

	txs, err := l.ProcessCommission(context.Background(), "order-1", twoProducts())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		require.Equal(t, 300.0, tx.CommissionAmount)
		require.Equal(t, commission.StatusCompleted, tx.Status)
		require.NotEmpty(t, tx.DistributionID)
	}
	for _, m := range l.TeamMembers() {
		require.InDelta(t, 200.0, m.TotalEarned, 1e-9, m.Name)
		income, err := l.MemberIncome(m.ID)
		require.NoError(t, err)
		require.InDelta(t, 200.0, income, 1e-9)
	}
	require.Equal(t, 600.0, l.TotalCompanyIncome())

	ds := l.Distributions()
	require.Len(t, ds, 2)
	for _, d := range ds {
		require.Len(t, d.Shares, 3)
		require.InDelta(t, 100.0, d.SharePerPerson, 1e-9)
	}
}

func TestCommissionIgnoresQuantityAndMergesDuplicateProducts(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina")
	txs, err := l.ProcessCommission(context.Background(), "order-1", []commission.SaleLine{
		{ProductID: "prod-romper", SaleAmount: 2400},
		{ProductID: "prod-romper", SaleAmount: 2600},
		{ProductID: "prod-plush", SaleAmount: 99999},
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "prod-romper", txs[0].ProductID)
	require.Equal(t, 5000.0, txs[0].SaleAmount)
	require.Equal(t, 300.0, txs[1].CommissionAmount)
}

func TestSharesSumToCommission(t *testing.T) {
	for _, members := range []int{1, 3, 7, 11} {
		names := make([]string, members)
		for i := range names {
			names[i] = string(rune('A' + i))
		}
		l, _ := newLedger(t, store.NewMemory(), names...)
		per := 100.0
		_, err := l.UpdateSettings(context.Background(), commission.SettingsPatch{CommissionPerProduct: &per})
		require.NoError(t, err)

		_, err = l.ProcessCommission(context.Background(), "order-x", []commission.SaleLine{{ProductID: "p", SaleAmount: 10}})
		require.NoError(t, err)
		d := l.Distributions()[0]
		var sum float64
		for _, s := range d.Shares {
			sum += s.Amount
		}
		require.LessOrEqual(t, math.Abs(sum-d.TotalCommission), 1e-9, "members=%d", members)
	}
}

func TestProcessCommissionIsIdempotentPerOrder(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina", "Yacine", "Sofiane")
	ctx := context.Background()

	_, err := l.ProcessCommission(ctx, "order-1", twoProducts())
	require.NoError(t, err)
	_, err = l.ProcessCommission(ctx, "order-1", twoProducts())
	require.ErrorIs(t, err, commission.ErrAlreadyProcessed)

	require.Len(t, l.Transactions(commission.TransactionFilter{}), 2)
	require.Len(t, l.Distributions(), 2)
	for _, m := range l.TeamMembers() {
		require.InDelta(t, 200.0, m.TotalEarned, 1e-9)
	}
	require.True(t, l.Processed("order-1"))
}

func TestConcurrentDeliveryProcessesOnce(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina", "Yacine")
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ProcessCommission(context.Background(), "order-race", twoProducts())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, commission.ErrAlreadyProcessed):
				replays++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
	require.Equal(t, 15, replays)
	for _, m := range l.TeamMembers() {
		require.InDelta(t, 300.0, m.TotalEarned, 1e-9)
	}
}

func TestEmptyRosterFailsWithoutMutation(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory())
	_, err := l.ProcessCommission(context.Background(), "order-1", twoProducts())
	require.ErrorIs(t, err, commission.ErrNoActiveMembers)
	require.Empty(t, l.Transactions(commission.TransactionFilter{}))
	require.False(t, l.Processed("order-1"))

	m, err := l.AddTeamMember(context.Background(), "Amina")
	require.NoError(t, err)
	_, err = l.ProcessCommission(context.Background(), "order-1", twoProducts())
	require.NoError(t, err)
	income, err := l.MemberIncome(m.ID)
	require.NoError(t, err)
	require.Equal(t, 600.0, income)
}

func TestWithoutAutoDistributeAndManualDistribute(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina", "Yacine")
	ctx := context.Background()
	off := false
	_, err := l.UpdateSettings(ctx, commission.SettingsPatch{AutoDistribute: &off})
	require.NoError(t, err)

	txs, err := l.ProcessCommission(ctx, "order-1", twoProducts())
	require.NoError(t, err)
	require.Empty(t, txs[0].DistributionID)
	require.Empty(t, l.Distributions())
	require.Equal(t, 2, l.Summary().Undistributed)

	d, err := l.Distribute(ctx, txs[0].ID)
	require.NoError(t, err)
	require.Equal(t, 150.0, d.SharePerPerson)
	_, err = l.Distribute(ctx, txs[0].ID)
	require.ErrorIs(t, err, commission.ErrAlreadyDistributed)

	_, err = l.SetTransactionStatus(ctx, txs[1].ID, commission.StatusRefunded)
	require.NoError(t, err)
	_, err = l.Distribute(ctx, txs[1].ID)
	require.ErrorIs(t, err, commission.ErrNotDistributable)

	_, err = l.Distribute(ctx, "missing")
	require.ErrorIs(t, err, commission.ErrNotFound)
}

func TestTransactionStatusTransitions(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina")
	ctx := context.Background()
	txs, err := l.ProcessCommission(ctx, "order-1", twoProducts()[:1])
	require.NoError(t, err)
	id := txs[0].ID

	_, err = l.SetTransactionStatus(ctx, id, commission.StatusPending)
	require.ErrorIs(t, err, commission.ErrInvalidTransition)

	same, err := l.SetTransactionStatus(ctx, id, commission.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, commission.StatusCompleted, same.Status)

	refunded, err := l.SetTransactionStatus(ctx, id, "Refunded")
	require.NoError(t, err)
	require.Equal(t, commission.StatusRefunded, refunded.Status)
	require.Equal(t, 0.0, l.TotalCompanyIncome())

	// Balances already credited stay credited.
	income, err := l.MemberIncome(l.TeamMembers()[0].ID)
	require.NoError(t, err)
	require.Equal(t, 300.0, income)

	_, err = l.SetTransactionStatus(ctx, id, commission.StatusCompleted)
	require.ErrorIs(t, err, commission.ErrInvalidTransition)
	_, err = l.SetTransactionStatus(ctx, id, "paid")
	require.ErrorIs(t, err, commission.ErrInvalidInput)
	_, err = l.SetTransactionStatus(ctx, "missing", commission.StatusRefunded)
	require.ErrorIs(t, err, commission.ErrNotFound)
}

func TestSplitPolicy(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(t, store.NewMemory(), "Amina", "Yacine", "Sofiane")
	members := l.TeamMembers()
	inactive := false
	_, err := l.UpdateTeamMember(ctx, members[2].ID, commission.MemberPatch{IsActive: &inactive})
	require.NoError(t, err)

	// roster: inactive members still count and are credited.
	_, err = l.ProcessCommission(ctx, "order-roster", twoProducts()[:1])
	require.NoError(t, err)
	for _, m := range l.TeamMembers() {
		require.InDelta(t, 100.0, m.TotalEarned, 1e-9)
	}

	active := commission.SplitActive
	_, err = l.UpdateSettings(ctx, commission.SettingsPatch{SplitPolicy: &active})
	require.NoError(t, err)
	c.Set(c.Now().Add(time.Hour))
	_, err = l.ProcessCommission(ctx, "order-active", twoProducts()[:1])
	require.NoError(t, err)

	got := l.TeamMembers()
	require.InDelta(t, 250.0, got[0].TotalEarned, 1e-9)
	require.InDelta(t, 250.0, got[1].TotalEarned, 1e-9)
	require.InDelta(t, 100.0, got[2].TotalEarned, 1e-9)
	require.Equal(t, commission.SplitActive, l.Distributions()[0].Policy)
	require.Len(t, l.Distributions()[0].Shares, 2)

	// Nobody active under the active policy.
	for _, m := range got[:2] {
		_, err = l.UpdateTeamMember(ctx, m.ID, commission.MemberPatch{IsActive: &inactive})
		require.NoError(t, err)
	}
	_, err = l.ProcessCommission(ctx, "order-none", twoProducts()[:1])
	require.ErrorIs(t, err, commission.ErrNoActiveMembers)
	require.False(t, l.Processed("order-none"))
}

func TestMonthlyStatsAreChronological(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(t, store.NewMemory(), "Amina")

	c.Set(time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC))
	_, err := l.ProcessCommission(ctx, "o-feb", []commission.SaleLine{{ProductID: "a", SaleAmount: 1000}})
	require.NoError(t, err)
	c.Set(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC))
	_, err = l.ProcessCommission(ctx, "o-dec", []commission.SaleLine{{ProductID: "a", SaleAmount: 500}})
	require.NoError(t, err)
	c.Set(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	txs, err := l.ProcessCommission(ctx, "o-jan", []commission.SaleLine{{ProductID: "a", SaleAmount: 700}, {ProductID: "b", SaleAmount: 300}})
	require.NoError(t, err)
	_, err = l.ProcessCommission(ctx, "o-jan-2", []commission.SaleLine{{ProductID: "c", SaleAmount: 50}})
	require.NoError(t, err)

	_, err = l.SetTransactionStatus(ctx, txs[1].ID, commission.StatusRefunded)
	require.NoError(t, err)

	stats := l.MonthlyStats()
	require.Len(t, stats, 3)
	require.Equal(t, []string{"2025-12", "2026-01", "2026-02"}, []string{stats[0].Key, stats[1].Key, stats[2].Key})
	require.Equal(t, "January 2026", stats[1].Label)
	require.Equal(t, 750.0, stats[1].Income)
	require.Equal(t, 600.0, stats[1].Commissions)
	require.Equal(t, 2, stats[1].Transactions)
	require.Equal(t, "December 2025", stats[0].Label)
}

func TestLedgerPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	l, _ := newLedger(t, kv, "Amina", "Yacine", "Sofiane")
	_, err := l.ProcessCommission(ctx, "order-1", twoProducts())
	require.NoError(t, err)

	reloaded, _ := newLedger(t, kv, "Somebody Else")
	require.Len(t, reloaded.TeamMembers(), 3)
	require.True(t, reloaded.Processed("order-1"))
	require.Len(t, reloaded.Transactions(commission.TransactionFilter{OrderID: "order-1"}), 2)
	for _, m := range reloaded.TeamMembers() {
		require.InDelta(t, 200.0, m.TotalEarned, 1e-9)
	}
	_, err = reloaded.ProcessCommission(ctx, "order-1", twoProducts())
	require.ErrorIs(t, err, commission.ErrAlreadyProcessed)
}

func TestCorruptSnapshotFallsBackToSeed(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Set(context.Background(), store.KeyCommission, []byte("[oops")))
	l, _ := newLedger(t, kv, "Amina", "Yacine")
	require.Len(t, l.TeamMembers(), 2)
	require.Equal(t, commission.DefaultSettings(), l.Settings())
}

func TestSettingsValidation(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina")
	ctx := context.Background()

	negative := -1.0
	_, err := l.UpdateSettings(ctx, commission.SettingsPatch{CommissionPerProduct: &negative})
	require.ErrorIs(t, err, commission.ErrInvalidInput)

	bogus := commission.SplitPolicy("seniority")
	_, err = l.UpdateSettings(ctx, commission.SettingsPatch{SplitPolicy: &bogus})
	require.ErrorIs(t, err, commission.ErrInvalidInput)
	require.Equal(t, commission.DefaultSettings(), l.Settings())

	payout := 5000.0
	s, err := l.UpdateSettings(ctx, commission.SettingsPatch{MinimumPayout: &payout})
	require.NoError(t, err)
	require.Equal(t, 5000.0, s.MinimumPayout)
	require.Equal(t, 300.0, s.CommissionPerProduct)
}

func TestTeamMemberUpdates(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory())
	ctx := context.Background()

	_, err := l.AddTeamMember(ctx, "   ")
	require.ErrorIs(t, err, commission.ErrInvalidInput)

	m, err := l.AddTeamMember(ctx, " Amina ")
	require.NoError(t, err)
	require.Equal(t, "Amina", m.Name)
	require.True(t, m.IsActive)

	name := "Amina B."
	updated, err := l.UpdateTeamMember(ctx, m.ID, commission.MemberPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Amina B.", updated.Name)
	require.True(t, updated.IsActive)

	empty := ""
	_, err = l.UpdateTeamMember(ctx, m.ID, commission.MemberPatch{Name: &empty})
	require.ErrorIs(t, err, commission.ErrInvalidInput)

	_, err = l.UpdateTeamMember(ctx, "nobody", commission.MemberPatch{Name: &name})
	require.ErrorIs(t, err, commission.ErrMemberNotFound)
	_, err = l.MemberIncome("nobody")
	require.ErrorIs(t, err, commission.ErrMemberNotFound)
}

func TestProcessCommissionValidatesInput(t *testing.T) {
	l, _ := newLedger(t, store.NewMemory(), "Amina")
	ctx := context.Background()
	_, err := l.ProcessCommission(ctx, "", twoProducts())
	require.ErrorIs(t, err, commission.ErrInvalidInput)
	_, err = l.ProcessCommission(ctx, "order-1", nil)
	require.ErrorIs(t, err, commission.ErrInvalidInput)
	_, err = l.ProcessCommission(ctx, "order-1", []commission.SaleLine{{ProductID: "", SaleAmount: 1}})
	require.ErrorIs(t, err, commission.ErrInvalidInput)
	_, err = l.ProcessCommission(ctx, "order-1", []commission.SaleLine{{ProductID: "p", SaleAmount: -1}})
	require.ErrorIs(t, err, commission.ErrInvalidInput)
	require.False(t, l.Processed("order-1"))
}

func TestRedisGuardAndEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := &events.MemoryLog{}
	l := commission.NewLedger(commission.LedgerConfig{
		KV:       store.NewRedis(client),
		Logger:   zerolog.Nop(),
		Events:   &events.Bus{Store: log},
		Guard:    lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Settings: commission.DefaultSettings(),
		Members:  []string{"Amina", "Yacine", "Sofiane"},
	})
	l.Load(context.Background())

	_, err = l.ProcessCommission(context.Background(), "order-1", twoProducts())
	require.NoError(t, err)
	require.False(t, mr.Exists("commission:order:order-1"))
	require.True(t, mr.Exists(store.KeyCommission))

	recent := log.Recent(0)
	require.Len(t, recent, 1)
	require.Equal(t, events.TopicCommissionRecorded, recent[0].Topic)
	require.Equal(t, "order-1", recent[0].AggregateID)
}
