package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/example/vending-commerce/internal/domain/payment"
	"github.com/example/vending-commerce/internal/infrastructure/store"
)

// StatusStats counts payment-type rows in one status and their value.
type StatusStats struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Stats aggregates the ledger. Collected is the value of successful
// payment rows; Refunded is the value of successful refund rows, so
// Collected minus Refunded is net.
type Stats struct {
	TotalPayments int                            `json:"total_payments"`
	Collected     decimal.Decimal                `json:"collected"`
	Refunded      decimal.Decimal                `json:"refunded"`
	ByStatus      map[payment.Status]StatusStats `json:"by_status"`
}

func (l *Ledger) Stats(ctx context.Context, filter store.PaymentFilter) (*Stats, error) {
	rows, err := l.payments.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Collected: decimal.Zero,
		Refunded:  decimal.Zero,
		ByStatus:  make(map[payment.Status]StatusStats),
	}
	for _, p := range rows {
		if p.Type == payment.TypePayment {
			stats.TotalPayments++
			s := stats.ByStatus[p.Status]
			s.Count++
			s.Amount = s.Amount.Add(p.Amount)
			stats.ByStatus[p.Status] = s
			if p.Status == payment.StatusSuccess {
				stats.Collected = stats.Collected.Add(p.Amount)
			}
			continue
		}
		if p.Status == payment.StatusSuccess {
			stats.Refunded = stats.Refunded.Add(p.Amount)
		}
	}
	return stats, nil
}
