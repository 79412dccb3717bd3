package order

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/infrastructure/store"
)

// StatusStats counts orders in one status and their combined value.
type StatusStats struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Stats aggregates order counts and revenue. Revenue counts completed
// orders only; everything else is still in flight or compensated.
type Stats struct {
	TotalOrders  int                          `json:"total_orders"`
	TotalRevenue decimal.Decimal              `json:"total_revenue"`
	ByStatus     map[order.Status]StatusStats `json:"by_status"`
}

// Stats aggregates over orders matching the filter. Zero filter fields
// match everything.
func (e *Engine) Stats(ctx context.Context, filter store.OrderFilter) (*Stats, error) {
	orders, err := e.orders.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalRevenue: decimal.Zero,
		ByStatus:     make(map[order.Status]StatusStats),
	}
	for _, o := range orders {
		stats.TotalOrders++
		s := stats.ByStatus[o.Status]
		s.Count++
		s.Amount = s.Amount.Add(o.TotalAmount)
		stats.ByStatus[o.Status] = s
	}
	if s, ok := stats.ByStatus[order.StatusCompleted]; ok {
		stats.TotalRevenue = s.Amount
	}
	return stats, nil
}
