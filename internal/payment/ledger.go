package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/domain/payment"
	"github.com/example/vending-commerce/internal/events"
	"github.com/example/vending-commerce/internal/infrastructure/store"
	"github.com/example/vending-commerce/internal/metrics"
	ordersvc "github.com/example/vending-commerce/internal/order"
)

const (
	defaultCurrency    = "INR"
	defaultMaxAttempts = 3
)

// Ledger owns the payment transaction rows. Every attempt and refund
// is its own row; settled rows never change again, which is what makes
// webhook replays safe.
type Ledger struct {
	payments  store.PaymentStore
	orders    store.OrderStore
	engine    *ordersvc.Engine
	gateways  *Registry
	publisher events.Publisher
	logger    *zap.Logger
}

func NewLedger(payments store.PaymentStore, orders store.OrderStore, engine *ordersvc.Engine,
	gateways *Registry, publisher events.Publisher, logger *zap.Logger) *Ledger {
	return &Ledger{
		payments:  payments,
		orders:    orders,
		engine:    engine,
		gateways:  gateways,
		publisher: publisher,
		logger:    logger,
	}
}

// Initiate opens a payment attempt for the order. The amount must
// equal the order total exactly, and an order with a successful
// payment row cannot take another. Gateways that settle inline (cash)
// complete the row before returning.
func (l *Ledger) Initiate(ctx context.Context, userID, orderID, gateway, method, currency string, amount decimal.Decimal) (*payment.Payment, *ClientPayload, error) {
	o, err := l.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.UserID != userID {
		return nil, nil, order.ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return nil, nil, order.ErrOrderFinal
	}
	if !amount.Equal(o.TotalAmount) {
		return nil, nil, payment.ErrAmountMismatch
	}

	if _, err := l.payments.SuccessfulPaymentForOrder(ctx, orderID); err == nil {
		return nil, nil, payment.ErrOrderAlreadyPaid
	} else if !errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, nil, err
	}

	adapter, err := l.gateways.Resolve(gateway)
	if err != nil {
		return nil, nil, err
	}
	if currency == "" {
		currency = defaultCurrency
	}

	now := time.Now()
	p := &payment.Payment{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		UserID:      userID,
		Amount:      amount,
		Currency:    currency,
		Method:      method,
		Gateway:     adapter.Name(),
		Type:        payment.TypePayment,
		Status:      payment.StatusPending,
		Metadata:    paymentMetadata(o),
		InitiatedAt: now,
		ExpiresAt:   now.Add(payment.Expiry),
		Attempts:    1,
		MaxAttempts: defaultMaxAttempts,
	}
	if err := l.payments.Create(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("create payment: %w", err)
	}

	payload, err := adapter.CreatePayment(ctx, p)
	if err != nil {
		if _, mErr := l.payments.UpdateLocked(ctx, p.ID, func(row *payment.Payment) error {
			return row.MarkFailed(time.Now(), "gateway_error", err.Error())
		}); mErr != nil {
			l.logger.Error("mark payment failed after gateway error",
				zap.String("payment_id", p.ID), zap.Error(mErr))
		}
		metrics.PaymentsProcessed.WithLabelValues("failed").Inc()
		return nil, nil, fmt.Errorf("gateway create payment: %w", err)
	}

	p, err = l.payments.UpdateLocked(ctx, p.ID, func(row *payment.Payment) error {
		row.GatewayResponse.OrderID = payload.GatewayOrderID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if payload.Settled {
		settled, err := l.settleSuccess(ctx, p.ID, payment.GatewayResponse{TransactionID: payload.GatewayOrderID})
		if err != nil {
			return nil, nil, err
		}
		return settled, payload, nil
	}

	l.publish(ctx, orderID, events.EventPaymentInitiated, events.PaymentInitiated{
		PaymentID:   p.ID,
		OrderID:     orderID,
		Gateway:     p.Gateway,
		Amount:      amount,
		InitiatedAt: now,
	})
	l.logger.Info("payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("order_id", orderID),
		zap.String("gateway", p.Gateway),
		zap.String("amount", amount.String()))
	return p, payload, nil
}

// WebhookPayload is the normalized shape of an inbound gateway
// callback, keyed by our payment row id.
type WebhookPayload struct {
	PaymentID      string          `json:"payment_id"`
	Status         string          `json:"status"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	GatewayOrderID string          `json:"gateway_order_id,omitempty"`
	Signature      string          `json:"signature,omitempty"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// ProcessWebhook applies one gateway callback. Delivery is
// at-least-once, so a callback for a row already in a final state is
// acknowledged without touching anything.
func (l *Ledger) ProcessWebhook(ctx context.Context, payload WebhookPayload) error {
	p, err := l.payments.Get(ctx, payload.PaymentID)
	if err != nil {
		return err
	}
	if p.Status.Final() {
		l.logger.Info("webhook replay ignored",
			zap.String("payment_id", p.ID), zap.String("status", payload.Status))
		return nil
	}

	resp := payment.GatewayResponse{
		TransactionID: payload.TransactionID,
		OrderID:       payload.GatewayOrderID,
		Signature:     payload.Signature,
		ErrorCode:     payload.ErrorCode,
		ErrorMessage:  payload.ErrorMessage,
		Raw:           payload.Raw,
	}

	switch payload.Status {
	case "success", "captured", "paid":
		_, err := l.settleSuccess(ctx, p.ID, resp)
		return err

	case "failed":
		return l.settleFailure(ctx, p.ID, resp)

	case "pending", "processing":
		// Informational callback: keep whatever the gateway sent, the
		// row stays open.
		_, err := l.payments.UpdateLocked(ctx, p.ID, func(row *payment.Payment) error {
			if row.Status.Final() {
				return payment.ErrPaymentFinal
			}
			row.MergeGatewayResponse(resp)
			if payload.Status == "processing" && row.Status == payment.StatusPending {
				row.Status = payment.StatusProcessing
			}
			return nil
		})
		if errors.Is(err, payment.ErrPaymentFinal) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown webhook status %q for payment %s", payload.Status, payload.PaymentID)
	}
}

// settleSuccess moves the row to success and confirms the order. The
// row lock plus the final-state guard make concurrent duplicates
// collapse into one winner; losers see ErrPaymentFinal and no-op.
func (l *Ledger) settleSuccess(ctx context.Context, paymentID string, resp payment.GatewayResponse) (*payment.Payment, error) {
	now := time.Now()
	p, err := l.payments.UpdateLocked(ctx, paymentID, func(row *payment.Payment) error {
		if row.Status.Final() {
			return payment.ErrPaymentFinal
		}
		row.MergeGatewayResponse(resp)
		return row.MarkSuccessful(now)
	})
	if errors.Is(err, payment.ErrPaymentFinal) {
		return l.payments.Get(ctx, paymentID)
	}
	if err != nil {
		return nil, err
	}

	if err := l.engine.ConfirmPayment(ctx, p.OrderID, p.ID, p.Method, p.Gateway, p.Amount); err != nil {
		l.logger.Error("confirm order payment",
			zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID), zap.Error(err))
	}

	metrics.PaymentsProcessed.WithLabelValues("success").Inc()
	l.publish(ctx, p.OrderID, events.EventPaymentSucceeded, events.PaymentSucceeded{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		CompletedAt: now,
	})
	l.logger.Info("payment succeeded",
		zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
	return p, nil
}

func (l *Ledger) settleFailure(ctx context.Context, paymentID string, resp payment.GatewayResponse) error {
	now := time.Now()
	p, err := l.payments.UpdateLocked(ctx, paymentID, func(row *payment.Payment) error {
		if row.Status.Final() {
			return payment.ErrPaymentFinal
		}
		row.MergeGatewayResponse(resp)
		return row.MarkFailed(now, resp.ErrorCode, resp.ErrorMessage)
	})
	if errors.Is(err, payment.ErrPaymentFinal) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := l.engine.FailPayment(ctx, p.OrderID, p.ID, "Payment failed"); err != nil {
		l.logger.Error("cancel order after failed payment",
			zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID), zap.Error(err))
	}

	metrics.PaymentsProcessed.WithLabelValues("failed").Inc()
	l.publish(ctx, p.OrderID, events.EventPaymentFailed, events.PaymentFailed{
		PaymentID:    p.ID,
		OrderID:      p.OrderID,
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
		FailedAt:     now,
	})
	l.logger.Info("payment failed",
		zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID),
		zap.String("error_code", resp.ErrorCode))
	return nil
}

// ProcessRefund refunds part or all of a settled payment. The refund
// is its own ledger row; the original row only has its refundable and
// refunded balances moved, and only after the gateway accepted the
// refund. A gateway rejection leaves the original untouched.
func (l *Ledger) ProcessRefund(ctx context.Context, userID, paymentID string, amount decimal.Decimal, reason string) (*payment.Payment, error) {
	orig, err := l.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if orig.UserID != userID {
		return nil, payment.ErrPaymentNotFound
	}
	if !orig.CanRefund() {
		return nil, payment.ErrNotRefundable
	}
	if !amount.IsPositive() {
		return nil, payment.ErrInvalidAmount
	}
	if amount.GreaterThan(orig.RefundableAmount) {
		return nil, payment.ErrExceedsRefundable
	}

	adapter, err := l.gateways.Resolve(orig.Gateway)
	if err != nil {
		return nil, err
	}

	refundType := payment.TypePartialRefund
	if amount.Equal(orig.Amount) {
		refundType = payment.TypeRefund
	}

	now := time.Now()
	refund := &payment.Payment{
		ID:          uuid.New().String(),
		OrderID:     orig.OrderID,
		UserID:      orig.UserID,
		Amount:      amount,
		Currency:    orig.Currency,
		Method:      orig.Method,
		Gateway:     orig.Gateway,
		Type:        refundType,
		Status:      payment.StatusProcessing,
		Metadata:    orig.Metadata,
		RefundOf:    orig.ID,
		Reason:      reason,
		InitiatedAt: now,
		ExpiresAt:   now.Add(payment.Expiry),
		Attempts:    1,
		MaxAttempts: 1,
	}
	if err := l.payments.Create(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund row: %w", err)
	}

	gatewayRefundID, err := adapter.CreateRefund(ctx, orig, refund)
	if err != nil {
		if _, mErr := l.payments.UpdateLocked(ctx, refund.ID, func(row *payment.Payment) error {
			return row.MarkFailed(time.Now(), "gateway_error", err.Error())
		}); mErr != nil {
			l.logger.Error("mark refund failed",
				zap.String("refund_id", refund.ID), zap.Error(mErr))
		}
		metrics.RefundsProcessed.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("gateway create refund: %w", err)
	}

	// Debit the original under its row lock. A concurrent refund that
	// drained the balance first surfaces here, not as an oversold
	// refund.
	updatedOrig, err := l.payments.UpdateLocked(ctx, orig.ID, func(row *payment.Payment) error {
		return row.ApplyRefund(amount)
	})
	if err != nil {
		if _, mErr := l.payments.UpdateLocked(ctx, refund.ID, func(row *payment.Payment) error {
			return row.MarkFailed(time.Now(), "balance_error", err.Error())
		}); mErr != nil {
			l.logger.Error("mark refund failed",
				zap.String("refund_id", refund.ID), zap.Error(mErr))
		}
		metrics.RefundsProcessed.WithLabelValues("failed").Inc()
		return nil, err
	}

	refund, err = l.payments.UpdateLocked(ctx, refund.ID, func(row *payment.Payment) error {
		row.GatewayResponse.TransactionID = gatewayRefundID
		return row.MarkSuccessful(time.Now())
	})
	if err != nil {
		return nil, err
	}

	if updatedOrig.RefundableAmount.IsZero() {
		if _, err := l.orders.UpdateLocked(ctx, orig.OrderID, func(o *order.Order) error {
			o.Payment.Status = order.PaymentRefunded
			o.RefundReason = reason
			o.UpdatedAt = time.Now()
			return nil
		}); err != nil {
			l.logger.Error("mark order refunded",
				zap.String("order_id", orig.OrderID), zap.Error(err))
		}
	}

	metrics.RefundsProcessed.WithLabelValues("success").Inc()
	l.publish(ctx, orig.OrderID, events.EventRefundProcessed, events.RefundProcessed{
		RefundID:    refund.ID,
		PaymentID:   orig.ID,
		OrderID:     orig.OrderID,
		Amount:      amount,
		Partial:     refundType == payment.TypePartialRefund,
		ProcessedAt: now,
	})
	l.logger.Info("refund processed",
		zap.String("refund_id", refund.ID),
		zap.String("payment_id", orig.ID),
		zap.String("amount", amount.String()),
		zap.Bool("partial", refundType == payment.TypePartialRefund))
	return refund, nil
}

// ExpirePayment settles a stale pending row as expired and cancels its
// order. Safe to call repeatedly; a row that settled in the meantime
// is left alone.
func (l *Ledger) ExpirePayment(ctx context.Context, paymentID string) error {
	now := time.Now()
	p, err := l.payments.UpdateLocked(ctx, paymentID, func(row *payment.Payment) error {
		return row.MarkExpired(now)
	})
	if errors.Is(err, payment.ErrPaymentFinal) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := l.engine.FailPayment(ctx, p.OrderID, p.ID, "Payment expired"); err != nil {
		l.logger.Error("cancel order after expired payment",
			zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID), zap.Error(err))
	}

	metrics.PaymentsProcessed.WithLabelValues("expired").Inc()
	l.publish(ctx, p.OrderID, events.EventPaymentExpired, events.PaymentExpired{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		ExpiredAt: now,
	})
	l.logger.Info("payment expired",
		zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
	return nil
}

// Get returns one ledger row, scoped to its owner.
func (l *Ledger) Get(ctx context.Context, paymentID, userID string) (*payment.Payment, error) {
	p, err := l.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, payment.ErrPaymentNotFound
	}
	return p, nil
}

// List returns ledger rows matching the filter.
func (l *Ledger) List(ctx context.Context, filter store.PaymentFilter) ([]*payment.Payment, error) {
	return l.payments.List(ctx, filter)
}

func paymentMetadata(o *order.Order) payment.Metadata {
	description := "Vending order"
	if len(o.Items) > 0 {
		description = o.Items[0].ProductName
		if len(o.Items) > 1 {
			description = fmt.Sprintf("%s + %d more", description, len(o.Items)-1)
		}
	}
	return payment.Metadata{
		OrderID:     o.ID,
		MachineID:   o.Delivery.MachineID,
		Description: description,
		ItemCount:   o.TotalItems,
	}
}

func (l *Ledger) publish(ctx context.Context, key, eventType string, payload any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, key, events.Envelope{Type: eventType, Payload: payload}); err != nil {
		l.logger.Error("publish event", zap.String("type", eventType), zap.String("key", key), zap.Error(err))
	}
}
