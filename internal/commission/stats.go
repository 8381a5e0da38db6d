package commission

import (
	"fmt"
	"sort"
	"time"
)

// TotalCompanyIncome sums the commission of completed transactions.
func (l *Ledger) TotalCompanyIncome() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, tx := range l.st.Transactions {
		if tx.Status == StatusCompleted {
			total += tx.CommissionAmount
		}
	}
	return total
}

// MemberIncome returns the member's running balance.
func (l *Ledger) MemberIncome(memberID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.st.Members {
		if m.ID == memberID {
			return m.TotalEarned, nil
		}
	}
	return 0, fmt.Errorf("member %s: %w", memberID, ErrMemberNotFound)
}

// MonthlyStats groups completed transactions by the UTC calendar month they
// were created in, oldest month first.
func (l *Ledger) MonthlyStats() []MonthlyStat {
	l.mu.Lock()
	byKey := make(map[string]*MonthlyStat)
	for _, tx := range l.st.Transactions {
		if tx.Status != StatusCompleted {
			continue
		}
		at := tx.CreatedAt.UTC()
		key := at.Format("2006-01")
		stat, ok := byKey[key]
		if !ok {
			stat = &MonthlyStat{Key: key, Label: monthLabel(at)}
			byKey[key] = stat
		}
		stat.Income += tx.SaleAmount
		stat.Commissions += tx.CommissionAmount
		stat.Transactions++
	}
	l.mu.Unlock()

	out := make([]MonthlyStat, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func monthLabel(t time.Time) string {
	return fmt.Sprintf("%s %d", t.Month(), t.Year())
}

// Summary returns headline figures for the commission dashboard.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Summary{
		Transactions:    len(l.st.Transactions),
		Distributions:   len(l.st.Distributions),
		ProcessedOrders: len(l.st.Processed),
		Members:         len(l.st.Members),
		Settings:        l.st.Settings,
	}
	for _, tx := range l.st.Transactions {
		if tx.Status != StatusCompleted {
			continue
		}
		s.TotalCompanyIncome += tx.CommissionAmount
		if tx.DistributionID == "" {
			s.Undistributed++
		}
	}
	for _, d := range l.st.Distributions {
		s.TotalDistributed += d.TotalCommission
	}
	for _, m := range l.st.Members {
		if m.IsActive {
			s.ActiveMembers++
		}
	}
	return s
}
