package payment

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Expiry is how long an initiated payment may stay pending before the
// sweeper expires it.
const Expiry = 15 * time.Minute

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Final reports whether the row reached a settled state. Webhook
// replays against a final row must be no-ops.
func (s Status) Final() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type TransactionType string

const (
	TypePayment       TransactionType = "payment"
	TypeRefund        TransactionType = "refund"
	TypePartialRefund TransactionType = "partial_refund"
)

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPaymentFinal      = errors.New("payment already in a final state")
	ErrAmountMismatch    = errors.New("amount does not match order total")
	ErrOrderAlreadyPaid  = errors.New("order already has a successful payment")
	ErrNotRefundable     = errors.New("payment is not refundable")
	ErrExceedsRefundable = errors.New("refund amount exceeds refundable amount")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// GatewayResponse holds whatever the gateway told us, merged in as
// webhooks arrive. Raw keeps the untouched payload for audits.
type GatewayResponse struct {
	TransactionID string          `json:"transaction_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Signature     string          `json:"signature,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Metadata is a denormalized order snapshot passed to gateways so they
// can render a checkout page without calling back into the core.
type Metadata struct {
	OrderID     string `json:"order_id"`
	MachineID   string `json:"machine_id"`
	Description string `json:"description"`
	ItemCount   int    `json:"item_count"`
}

// Payment is one ledger row: a payment attempt or a refund against a
// previous attempt. Rows are append-style; a refund never mutates the
// original row beyond its refundable/refunded balances.
type Payment struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Method   string          `json:"payment_method"`
	Gateway  string          `json:"payment_gateway"`
	Type     TransactionType `json:"transaction_type"`
	Status   Status          `json:"status"`

	GatewayResponse GatewayResponse `json:"gateway_response"`
	Metadata        Metadata        `json:"metadata"`

	// RefundOf links a refund row back to the original payment row.
	RefundOf string `json:"refund_of,omitempty"`
	Reason   string `json:"reason,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	RefundableAmount decimal.Decimal `json:"refundable_amount"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
}

// MarkSuccessful settles the row. Guarded so webhook replays cannot
// re-apply it: a row that already reached a final state is rejected.
func (p *Payment) MarkSuccessful(now time.Time) error {
	if p.Status.Final() {
		return ErrPaymentFinal
	}
	p.Status = StatusSuccess
	p.CompletedAt = &now
	if p.Type == TypePayment {
		p.RefundableAmount = p.Amount
		p.RefundedAmount = decimal.Zero
	}
	return nil
}

// MarkFailed settles the row as failed with the gateway's error.
func (p *Payment) MarkFailed(now time.Time, errorCode, errorMessage string) error {
	if p.Status.Final() {
		return ErrPaymentFinal
	}
	p.Status = StatusFailed
	p.FailedAt = &now
	if errorCode != "" {
		p.GatewayResponse.ErrorCode = errorCode
	}
	if errorMessage != "" {
		p.GatewayResponse.ErrorMessage = errorMessage
	}
	return nil
}

// MarkExpired settles a stale pending row; used by the sweeper.
func (p *Payment) MarkExpired(now time.Time) error {
	if p.Status.Final() {
		return ErrPaymentFinal
	}
	p.Status = StatusExpired
	p.FailedAt = &now
	return nil
}

// MergeGatewayResponse copies non-empty fields from an inbound webhook
// over the stored gateway response.
func (p *Payment) MergeGatewayResponse(resp GatewayResponse) {
	if resp.TransactionID != "" {
		p.GatewayResponse.TransactionID = resp.TransactionID
	}
	if resp.OrderID != "" {
		p.GatewayResponse.OrderID = resp.OrderID
	}
	if resp.PaymentID != "" {
		p.GatewayResponse.PaymentID = resp.PaymentID
	}
	if resp.Signature != "" {
		p.GatewayResponse.Signature = resp.Signature
	}
	if resp.ErrorCode != "" {
		p.GatewayResponse.ErrorCode = resp.ErrorCode
	}
	if resp.ErrorMessage != "" {
		p.GatewayResponse.ErrorMessage = resp.ErrorMessage
	}
	if len(resp.Raw) > 0 {
		p.GatewayResponse.Raw = resp.Raw
	}
}

// CanRefund is true for a settled payment-type row with balance left.
func (p *Payment) CanRefund() bool {
	return p.Status == StatusSuccess &&
		p.Type == TypePayment &&
		p.RefundableAmount.IsPositive()
}

// ApplyRefund moves amount from refundable to refunded on the original
// payment row. Invariant: refundable + refunded == amount always holds
// afterwards, and neither side can go negative.
func (p *Payment) ApplyRefund(amount decimal.Decimal) error {
	if !p.CanRefund() {
		return ErrNotRefundable
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.RefundableAmount) {
		return ErrExceedsRefundable
	}
	p.RefundableAmount = p.RefundableAmount.Sub(amount)
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	return nil
}
