// Package metrics exposes the fulfillment counters. Everything that
// moves money or stock increments one of these.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vending",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders successfully created.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vending",
		Subsystem: "orders",
		Name:      "cancelled_total",
		Help:      "Orders transitioned to cancelled.",
	})

	PaymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vending",
		Subsystem: "payments",
		Name:      "processed_total",
		Help:      "Payment rows settled, by outcome.",
	}, []string{"outcome"})

	RefundsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vending",
		Subsystem: "payments",
		Name:      "refunds_total",
		Help:      "Refund rows settled, by outcome.",
	}, []string{"outcome"})

	SlotsRestored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vending",
		Subsystem: "inventory",
		Name:      "units_restored_total",
		Help:      "Stock units returned to slots by cancellations.",
	})

	RestoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vending",
		Subsystem: "inventory",
		Name:      "restore_failures_total",
		Help:      "Per-item restorations skipped because the machine or slot was gone.",
	})
)
