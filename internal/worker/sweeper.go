// Package worker holds the background loops that run alongside the
// API: the payment expiry sweeper and the gateway webhook consumer.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/vending-commerce/internal/infrastructure/store"
	paymentsvc "github.com/example/vending-commerce/internal/payment"
)

// Sweeper expires stale pending payments on an interval. ExpirePayment
// is idempotent, so overlapping sweeps or a concurrently landing
// webhook cost nothing.
type Sweeper struct {
	payments store.PaymentStore
	ledger   *paymentsvc.Ledger
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(payments store.PaymentStore, ledger *paymentsvc.Ledger, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{payments: payments, ledger: ledger, interval: interval, logger: logger}
}

// Run blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every overdue pending payment once.
func (s *Sweeper) Sweep(ctx context.Context) {
	rows, err := s.payments.ListExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("list expired payments", zap.Error(err))
		return
	}
	for _, p := range rows {
		if err := s.ledger.ExpirePayment(ctx, p.ID); err != nil {
			s.logger.Error("expire payment",
				zap.String("payment_id", p.ID), zap.Error(err))
		}
	}
	if len(rows) > 0 {
		s.logger.Info("expired stale payments", zap.Int("count", len(rows)))
	}
}
