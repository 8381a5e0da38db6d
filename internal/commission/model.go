package commission

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput is returned for malformed ledger requests.
	ErrInvalidInput = errors.New("invalid commission input")
	// ErrAlreadyProcessed is returned when commission was already recorded for an order.
	ErrAlreadyProcessed = errors.New("commission already processed for order")
	// ErrNoActiveMembers is returned when a distribution would divide by zero members.
	ErrNoActiveMembers = errors.New("no team members to distribute to")
	// ErrNotFound is returned for unknown transactions.
	ErrNotFound = errors.New("commission transaction not found")
	// ErrMemberNotFound is returned for unknown team members.
	ErrMemberNotFound = errors.New("team member not found")
	// ErrInvalidTransition is returned for disallowed transaction status changes.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
	// ErrAlreadyDistributed is returned when distributing a transaction twice.
	ErrAlreadyDistributed = errors.New("transaction already distributed")
	// ErrNotDistributable is returned when distributing a transaction that is not completed.
	ErrNotDistributable = errors.New("only completed transactions can be distributed")
	// ErrOrderNotDelivered is returned when processing commission for an undelivered order.
	ErrOrderNotDelivered = errors.New("order is not delivered")
)

// Status is the lifecycle state of a commission transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// ParseStatus normalises s into a known transaction status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("status %q: %w", s, ErrInvalidInput)
}

// canTransition reports whether a transaction may move from one status to another.
// Nothing leaves refunded.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted
	case StatusCompleted:
		return to == StatusRefunded
	}
	return false
}

// SplitPolicy selects who shares a distribution.
type SplitPolicy string

const (
	// SplitRoster divides among every tracked member, active or not.
	SplitRoster SplitPolicy = "roster"
	// SplitActive divides among active members only.
	SplitActive SplitPolicy = "active"
)

// Transaction is the flat commission credited for one product of a delivered order.
type Transaction struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"orderId"`
	ProductID        string    `json:"productId"`
	ProductName      string    `json:"productName"`
	StoreID          string    `json:"storeId"`
	StoreName        string    `json:"storeName"`
	SaleAmount       float64   `json:"saleAmount"`
	CommissionAmount float64   `json:"commissionAmount"`
	Status           Status    `json:"status"`
	DistributionID   string    `json:"distributionId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Share is one member's part of a distribution.
type Share struct {
	MemberID   string  `json:"memberId"`
	MemberName string  `json:"memberName"`
	Amount     float64 `json:"amount"`
}

// Distribution records the equal split of one transaction.
type Distribution struct {
	ID              string      `json:"id"`
	TransactionID   string      `json:"transactionId"`
	TotalCommission float64     `json:"totalCommission"`
	SharePerPerson  float64     `json:"sharePerPerson"`
	Policy          SplitPolicy `json:"policy"`
	Shares          []Share     `json:"distributions"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// TeamMember is a salesperson with a running balance.
type TeamMember struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TotalEarned float64   `json:"totalEarned"`
	IsActive    bool      `json:"isActive"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Settings configures the ledger. MinimumPayout is stored and reported but no
// payout logic reads it.
type Settings struct {
	CommissionPerProduct float64     `json:"commissionPerProduct" validate:"gte=0"`
	MinimumPayout        float64     `json:"minimumPayout" validate:"gte=0"`
	AutoDistribute       bool        `json:"autoDistribute"`
	SplitPolicy          SplitPolicy `json:"splitPolicy" validate:"oneof=roster active"`
}

// DefaultSettings are the storefront defaults: 300 DA per product, auto distribution on.
func DefaultSettings() Settings {
	return Settings{
		CommissionPerProduct: 300,
		MinimumPayout:        1000,
		AutoDistribute:       true,
		SplitPolicy:          SplitRoster,
	}
}

// SettingsPatch updates only the fields that are set.
type SettingsPatch struct {
	CommissionPerProduct *float64     `json:"commissionPerProduct"`
	MinimumPayout        *float64     `json:"minimumPayout"`
	AutoDistribute       *bool        `json:"autoDistribute"`
	SplitPolicy          *SplitPolicy `json:"splitPolicy"`
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.CommissionPerProduct != nil {
		s.CommissionPerProduct = *p.CommissionPerProduct
	}
	if p.MinimumPayout != nil {
		s.MinimumPayout = *p.MinimumPayout
	}
	if p.AutoDistribute != nil {
		s.AutoDistribute = *p.AutoDistribute
	}
	if p.SplitPolicy != nil {
		s.SplitPolicy = SplitPolicy(strings.ToLower(strings.TrimSpace(string(*p.SplitPolicy))))
	}
	return s
}

// MemberPatch updates a team member's name or active flag.
type MemberPatch struct {
	Name     *string `json:"name" validate:"omitnil,min=1,max=80"`
	IsActive *bool   `json:"isActive"`
}

// SaleLine is one product sold in an order.
type SaleLine struct {
	ProductID   string  `json:"productId" validate:"required"`
	ProductName string  `json:"productName"`
	StoreID     string  `json:"storeId"`
	StoreName   string  `json:"storeName"`
	SaleAmount  float64 `json:"saleAmount" validate:"gte=0"`
}

// MergeLines collapses repeated products, summing their sale amounts, and
// keeps the first-seen order.
func MergeLines(lines []SaleLine) []SaleLine {
	out := make([]SaleLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := index[l.ProductID]; ok {
			out[i].SaleAmount += l.SaleAmount
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// MonthlyStat aggregates completed transactions of one calendar month.
type MonthlyStat struct {
	Key          string  `json:"key"`
	Label        string  `json:"month"`
	Income       float64 `json:"income"`
	Commissions  float64 `json:"commissions"`
	Transactions int     `json:"transactions"`
}

// Summary is the commission dashboard headline.
type Summary struct {
	TotalCompanyIncome float64  `json:"totalCompanyIncome"`
	TotalDistributed   float64  `json:"totalDistributed"`
	Undistributed      int      `json:"undistributedTransactions"`
	Transactions       int      `json:"transactions"`
	Distributions      int      `json:"distributions"`
	ProcessedOrders    int      `json:"processedOrders"`
	Members            int      `json:"members"`
	ActiveMembers      int      `json:"activeMembers"`
	Settings           Settings `json:"settings"`
}
