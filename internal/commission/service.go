package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/order"
)

// Orders is the order lookup the commission service needs.
type Orders interface {
	Get(idOrNumber string) (order.Order, error)
	List(f order.Filter) []order.Order
}

// Service turns delivered orders into ledger entries.
type Service struct {
	Ledger *Ledger
	Orders Orders
	Logger zerolog.Logger
}

// SaleLines builds one sale line per order item; ProcessCommission merges
// variants of the same product.
func SaleLines(o order.Order) []SaleLine {
	lines := make([]SaleLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, SaleLine{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			StoreID:     o.Store.ID,
			StoreName:   o.Store.Name,
			SaleAmount:  float64(it.LineTotal),
		})
	}
	return lines
}

// ProcessOrder records commission for one delivered order.
func (s *Service) ProcessOrder(ctx context.Context, idOrNumber string) ([]Transaction, error) {
	if s == nil || s.Ledger == nil || s.Orders == nil {
		return nil, errors.New("commission service not configured")
	}
	o, err := s.Orders.Get(idOrNumber)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusDelivered {
		return nil, fmt.Errorf("order %s is %s: %w", o.Number, o.Status, ErrOrderNotDelivered)
	}
	return s.Ledger.ProcessCommission(ctx, o.ID, SaleLines(o))
}

// BulkResult reports a ProcessDelivered run.
type BulkResult struct {
	Processed    int               `json:"processed"`
	Transactions int               `json:"transactions"`
	Skipped      int               `json:"skipped"`
	Failed       map[string]string `json:"failed,omitempty"`
}

// ProcessDelivered records commission for every delivered order the ledger has
// not seen yet. One failing order does not stop the rest.
func (s *Service) ProcessDelivered(ctx context.Context) (BulkResult, error) {
	if s == nil || s.Ledger == nil || s.Orders == nil {
		return BulkResult{}, errors.New("commission service not configured")
	}
	var res BulkResult
	for _, o := range s.Orders.List(order.Filter{Status: order.StatusDelivered}) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.Ledger.Processed(o.ID) {
			res.Skipped++
			continue
		}
		txs, err := s.Ledger.ProcessCommission(ctx, o.ID, SaleLines(o))
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			res.Skipped++
		case err != nil:
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[o.Number] = err.Error()
			s.Logger.Warn().Err(err).Str("order_id", o.ID).Msg("commission: bulk process order")
		default:
			res.Processed++
			res.Transactions += len(txs)
		}
	}
	return res, nil
}
