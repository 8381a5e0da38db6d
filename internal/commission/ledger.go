package commission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/lock"
	"github.com/noah-isme/tiny-treasure/internal/obs"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

// state is the persisted form of the ledger.
type state struct {
	Transactions  []Transaction        `json:"transactions"`
	Distributions []Distribution       `json:"distributions"`
	Members       []TeamMember         `json:"teamMembers"`
	Settings      Settings             `json:"settings"`
	Processed     map[string]time.Time `json:"processedOrders"`
}

// LedgerConfig configures NewLedger.
type LedgerConfig struct {
	KV       store.KV
	Logger   zerolog.Logger
	Events   *events.Bus
	Guard    lock.Guard
	LockTTL  time.Duration
	Now      func() time.Time
	Settings Settings
	// Members seeds the roster when nothing has been persisted.
	Members []string
}

// Ledger records commission transactions, splits them across the team and
// keeps member balances. All state changes happen under one mutex so a
// distribution is applied to every member or to none.
type Ledger struct {
	mu     sync.Mutex
	saveMu sync.Mutex
	st     state

	snap    store.Snapshot[state]
	events  *events.Bus
	guard   lock.Guard
	lockTTL time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	seedSettings Settings
	seedMembers  []string
}

// NewLedger builds a ledger seeded from cfg. Call Load to restore persisted state.
func NewLedger(cfg LedgerConfig) *Ledger {
	settings := cfg.Settings
	if settings.SplitPolicy == "" {
		settings.SplitPolicy = SplitRoster
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	l := &Ledger{
		snap:         store.NewSnapshot[state](cfg.KV, store.KeyCommission, cfg.Logger),
		events:       cfg.Events,
		guard:        cfg.Guard,
		lockTTL:      ttl,
		now:          now,
		logger:       cfg.Logger,
		seedSettings: settings,
		seedMembers:  cfg.Members,
	}
	l.st = l.seed()
	return l
}

func (l *Ledger) seed() state {
	st := state{Settings: l.seedSettings, Processed: make(map[string]time.Time)}
	now := l.now()
	for _, name := range l.seedMembers {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		st.Members = append(st.Members, TeamMember{ID: uuid.NewString(), Name: name, IsActive: true, LastUpdated: now})
	}
	return st
}

// Load restores the persisted ledger. Missing or corrupt data keeps the seed state.
func (l *Ledger) Load(ctx context.Context) {
	st, ok := l.snap.Load(ctx)
	if !ok {
		l.logger.Info().Int("members", len(l.seedMembers)).Msg("commission: using seed ledger")
		return
	}
	if st.Processed == nil {
		st.Processed = make(map[string]time.Time)
	}
	if st.Settings.SplitPolicy == "" {
		st.Settings.SplitPolicy = SplitRoster
	}
	l.mu.Lock()
	l.st = st
	l.mu.Unlock()
}

// persistAndUnlock snapshots the state, releases mu and saves. saveMu is taken
// before mu is released so snapshots reach the store in mutation order.
func (l *Ledger) persistAndUnlock(ctx context.Context) {
	snapshot := l.st.clone()
	l.saveMu.Lock()
	l.mu.Unlock()
	defer l.saveMu.Unlock()
	l.snap.Save(context.WithoutCancel(ctx), snapshot)
}

// ProcessCommission records one completed transaction per distinct product of
// orderID, distributing each immediately when auto-distribute is on. It runs at
// most once per order: a replay returns ErrAlreadyProcessed and records nothing.
// When distribution is required but impossible the call fails with
// ErrNoActiveMembers before any state changes.
func (l *Ledger) ProcessCommission(ctx context.Context, orderID string, lines []SaleLine) (_ []Transaction, err error) {
	ctx, span := obs.Tracer("commission").Start(ctx, "commission.ProcessCommission")
	span.SetAttributes(attribute.String("commission.order_id", orderID), attribute.Int("commission.lines", len(lines)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, common.BadRequest("orderId", "orderId is required", ErrInvalidInput)
	}
	if len(lines) == 0 {
		return nil, common.BadRequest("lines", "at least one product line is required", ErrInvalidInput)
	}
	for _, line := range lines {
		if err := common.ValidateStruct(line, ErrInvalidInput); err != nil {
			return nil, err
		}
	}
	merged := MergeLines(lines)

	var recorded []Transaction
	var distributed float64
	run := func(ctx context.Context) error {
		l.mu.Lock()
		if _, done := l.st.Processed[orderID]; done {
			l.mu.Unlock()
			return fmt.Errorf("order %s: %w", orderID, ErrAlreadyProcessed)
		}
		settings := l.st.Settings
		if settings.AutoDistribute && len(l.recipients(settings.SplitPolicy)) == 0 {
			l.mu.Unlock()
			return ErrNoActiveMembers
		}
		now := l.now()
		for _, line := range merged {
			tx := Transaction{
				ID:               uuid.NewString(),
				OrderID:          orderID,
				ProductID:        line.ProductID,
				ProductName:      line.ProductName,
				StoreID:          line.StoreID,
				StoreName:        line.StoreName,
				SaleAmount:       line.SaleAmount,
				CommissionAmount: settings.CommissionPerProduct,
				Status:           StatusCompleted,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			l.st.Transactions = append(l.st.Transactions, tx)
			if settings.AutoDistribute {
				d := l.distributeLocked(len(l.st.Transactions)-1, settings.SplitPolicy, now)
				distributed += d.TotalCommission
			}
			recorded = append(recorded, l.st.Transactions[len(l.st.Transactions)-1])
		}
		l.st.Processed[orderID] = now
		l.persistAndUnlock(ctx)
		return nil
	}

	if l.guard != nil {
		err = l.guard.WithLock(ctx, lock.Key("commission", "order", orderID), l.lockTTL, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			obs.AddCommissionTransactions("duplicate", len(merged))
		} else {
			obs.AddCommissionTransactions("rejected", len(merged))
		}
		return nil, err
	}

	obs.AddCommissionTransactions("recorded", len(recorded))
	obs.AddCommissionDistributed(distributed)
	l.logger.Info().Str("order_id", orderID).Int("transactions", len(recorded)).Float64("distributed", distributed).Msg("commission: order processed")
	if l.events != nil {
		if _, emitErr := l.events.Emit(ctx, events.TopicCommissionRecorded, orderID, map[string]any{
			"orderId":      orderID,
			"transactions": len(recorded),
			"distributed":  distributed,
		}); emitErr != nil {
			l.logger.Error().Err(emitErr).Str("order_id", orderID).Msg("commission: emit commission.recorded")
		}
	}
	return recorded, nil
}

// recipients returns the indices of the members a distribution is split across.
func (l *Ledger) recipients(policy SplitPolicy) []int {
	out := make([]int, 0, len(l.st.Members))
	for i, m := range l.st.Members {
		if policy == SplitActive && !m.IsActive {
			continue
		}
		out = append(out, i)
	}
	return out
}

// distributeLocked splits transaction i equally and credits every recipient.
// Callers hold mu and have checked that recipients is non-empty.
func (l *Ledger) distributeLocked(i int, policy SplitPolicy, now time.Time) Distribution {
	tx := &l.st.Transactions[i]
	who := l.recipients(policy)
	share := tx.CommissionAmount / float64(len(who))
	d := Distribution{
		ID:              uuid.NewString(),
		TransactionID:   tx.ID,
		TotalCommission: tx.CommissionAmount,
		SharePerPerson:  share,
		Policy:          policy,
		Shares:          make([]Share, 0, len(who)),
		CreatedAt:       now,
	}
	for _, idx := range who {
		m := &l.st.Members[idx]
		m.TotalEarned += share
		m.LastUpdated = now
		d.Shares = append(d.Shares, Share{MemberID: m.ID, MemberName: m.Name, Amount: share})
	}
	tx.DistributionID = d.ID
	tx.UpdatedAt = now
	l.st.Distributions = append(l.st.Distributions, d)
	return d
}

func (l *Ledger) txIndex(id string) (int, bool) {
	for i := range l.st.Transactions {
		if l.st.Transactions[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// Distribute splits a completed, undistributed transaction across the team.
func (l *Ledger) Distribute(ctx context.Context, transactionID string) (Distribution, error) {
	l.mu.Lock()
	i, ok := l.txIndex(transactionID)
	if !ok {
		l.mu.Unlock()
		return Distribution{}, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	tx := l.st.Transactions[i]
	switch {
	case tx.DistributionID != "":
		l.mu.Unlock()
		return Distribution{}, fmt.Errorf("transaction %s: %w", transactionID, ErrAlreadyDistributed)
	case tx.Status != StatusCompleted:
		l.mu.Unlock()
		return Distribution{}, fmt.Errorf("transaction %s is %s: %w", transactionID, tx.Status, ErrNotDistributable)
	}
	policy := l.st.Settings.SplitPolicy
	if len(l.recipients(policy)) == 0 {
		l.mu.Unlock()
		return Distribution{}, ErrNoActiveMembers
	}
	d := l.distributeLocked(i, policy, l.now())
	out := d.clone()
	l.persistAndUnlock(ctx)
	obs.AddCommissionDistributed(d.TotalCommission)
	return out, nil
}

// SetTransactionStatus moves a transaction along pending -> completed -> refunded.
// Setting the current status again is a no-op. Refunds do not reverse member
// balances that were already credited.
func (l *Ledger) SetTransactionStatus(ctx context.Context, id string, status Status) (Transaction, error) {
	status, err := ParseStatus(string(status))
	if err != nil {
		return Transaction{}, err
	}
	l.mu.Lock()
	i, ok := l.txIndex(id)
	if !ok {
		l.mu.Unlock()
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	tx := &l.st.Transactions[i]
	if tx.Status == status {
		out := *tx
		l.mu.Unlock()
		return out, nil
	}
	if !canTransition(tx.Status, status) {
		from := tx.Status
		l.mu.Unlock()
		return Transaction{}, fmt.Errorf("%s -> %s: %w", from, status, ErrInvalidTransition)
	}
	tx.Status = status
	tx.UpdatedAt = l.now()
	out := *tx
	l.persistAndUnlock(ctx)
	return out, nil
}

// AddTeamMember appends an active member with a zero balance.
func (l *Ledger) AddTeamMember(ctx context.Context, name string) (TeamMember, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 80 {
		return TeamMember{}, common.BadRequest("name", "name must be 1-80 characters", ErrInvalidInput)
	}
	l.mu.Lock()
	m := TeamMember{ID: uuid.NewString(), Name: name, IsActive: true, LastUpdated: l.now()}
	l.st.Members = append(l.st.Members, m)
	l.persistAndUnlock(ctx)
	return m, nil
}

// UpdateTeamMember renames a member or toggles IsActive. Balances are untouched.
func (l *Ledger) UpdateTeamMember(ctx context.Context, id string, patch MemberPatch) (TeamMember, error) {
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if err := common.ValidateStruct(patch, ErrInvalidInput); err != nil {
		return TeamMember{}, err
	}
	l.mu.Lock()
	for i := range l.st.Members {
		m := &l.st.Members[i]
		if m.ID != id {
			continue
		}
		if patch.Name != nil {
			m.Name = *patch.Name
		}
		if patch.IsActive != nil {
			m.IsActive = *patch.IsActive
		}
		m.LastUpdated = l.now()
		out := *m
		l.persistAndUnlock(ctx)
		return out, nil
	}
	l.mu.Unlock()
	return TeamMember{}, fmt.Errorf("member %s: %w", id, ErrMemberNotFound)
}

// UpdateSettings applies patch after validating the result.
func (l *Ledger) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	l.mu.Lock()
	next := patch.apply(l.st.Settings)
	if err := common.ValidateStruct(next, ErrInvalidInput); err != nil {
		l.mu.Unlock()
		return Settings{}, err
	}
	l.st.Settings = next
	l.persistAndUnlock(ctx)
	l.logger.Info().Float64("per_product", next.CommissionPerProduct).Bool("auto_distribute", next.AutoDistribute).Str("split_policy", string(next.SplitPolicy)).Msg("commission: settings updated")
	return next, nil
}

// Settings returns the current settings.
func (l *Ledger) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.Settings
}

// TeamMembers returns a copy of the roster.
func (l *Ledger) TeamMembers() []TeamMember {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TeamMember(nil), l.st.Members...)
}

// TransactionFilter narrows Transactions. Zero values match everything.
type TransactionFilter struct {
	Status  Status
	OrderID string
}

// Transactions returns matching transactions, newest first.
func (l *Ledger) Transactions(f TransactionFilter) []Transaction {
	l.mu.Lock()
	out := make([]Transaction, 0, len(l.st.Transactions))
	for _, tx := range l.st.Transactions {
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.OrderID != "" && tx.OrderID != f.OrderID {
			continue
		}
		out = append(out, tx)
	}
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Distributions returns every distribution, newest first.
func (l *Ledger) Distributions() []Distribution {
	l.mu.Lock()
	out := make([]Distribution, 0, len(l.st.Distributions))
	for _, d := range l.st.Distributions {
		out = append(out, d.clone())
	}
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Processed reports whether commission was already recorded for orderID.
func (l *Ledger) Processed(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.st.Processed[orderID]
	return ok
}

func (d Distribution) clone() Distribution {
	d.Shares = append([]Share(nil), d.Shares...)
	return d
}

func (s state) clone() state {
	out := state{
		Transactions:  append([]Transaction(nil), s.Transactions...),
		Distributions: make([]Distribution, len(s.Distributions)),
		Members:       append([]TeamMember(nil), s.Members...),
		Settings:      s.Settings,
		Processed:     make(map[string]time.Time, len(s.Processed)),
	}
	for i, d := range s.Distributions {
		out.Distributions[i] = d.clone()
	}
	for k, v := range s.Processed {
		out.Processed[k] = v
	}
	return out
}
