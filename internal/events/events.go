// Package events defines the domain events the core publishes after
// state changes commit, and the publisher port the services use.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderStatusSet   = "OrderStatusSet"
	EventPaymentInitiated = "PaymentInitiated"
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
	EventPaymentExpired   = "PaymentExpired"
	EventRefundProcessed  = "RefundProcessed"
)

// Publisher is implemented by the kafka producer. Services treat
// publish failures as non-fatal: state has already committed.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// NopPublisher discards events; used in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, key string, event any) error { return nil }

// Envelope wraps a payload with its event type so consumers can
// dispatch without probing fields.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type OrderCreated struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	MachineID   string          `json:"machine_id"`
	TotalItems  int             `json:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type OrderStatusSet struct {
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	SetAt   time.Time `json:"set_at"`
}

type PaymentInitiated struct {
	PaymentID   string          `json:"payment_id"`
	OrderID     string          `json:"order_id"`
	Gateway     string          `json:"gateway"`
	Amount      decimal.Decimal `json:"amount"`
	InitiatedAt time.Time       `json:"initiated_at"`
}

type PaymentSucceeded struct {
	PaymentID   string          `json:"payment_id"`
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	CompletedAt time.Time       `json:"completed_at"`
}

type PaymentFailed struct {
	PaymentID    string    `json:"payment_id"`
	OrderID      string    `json:"order_id"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FailedAt     time.Time `json:"failed_at"`
}

type PaymentExpired struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

type RefundProcessed struct {
	RefundID    string          `json:"refund_id"`
	PaymentID   string          `json:"payment_id"`
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Partial     bool            `json:"partial"`
	ProcessedAt time.Time       `json:"processed_at"`
}
