package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayment(status Status) *Payment {
	return &Payment{
		ID:      "pay-1",
		OrderID: "order-1",
		UserID:  "user-1",
		Amount:  decimal.RequireFromString("118.00"),
		Type:    TypePayment,
		Status:  status,
	}
}

// ============================================
// Settlement Tests
// ============================================

func TestPayment_MarkSuccessful(t *testing.T) {
	p := testPayment(StatusPending)
	now := time.Now()

	require.NoError(t, p.MarkSuccessful(now))

	assert.Equal(t, StatusSuccess, p.Status)
	require.NotNil(t, p.CompletedAt)
	assert.True(t, p.RefundableAmount.Equal(p.Amount))
	assert.True(t, p.RefundedAmount.IsZero())
}

func TestPayment_MarkSuccessful_ReplayRejected(t *testing.T) {
	for _, status := range []Status{StatusSuccess, StatusFailed, StatusCancelled, StatusExpired} {
		p := testPayment(status)
		err := p.MarkSuccessful(time.Now())
		assert.ErrorIs(t, err, ErrPaymentFinal, "from %s", status)
		assert.Equal(t, status, p.Status)
	}
}

func TestPayment_MarkFailed(t *testing.T) {
	p := testPayment(StatusProcessing)

	require.NoError(t, p.MarkFailed(time.Now(), "card_declined", "insufficient funds"))

	assert.Equal(t, StatusFailed, p.Status)
	require.NotNil(t, p.FailedAt)
	assert.Equal(t, "card_declined", p.GatewayResponse.ErrorCode)
	assert.Equal(t, "insufficient funds", p.GatewayResponse.ErrorMessage)
}

func TestPayment_MarkExpired(t *testing.T) {
	p := testPayment(StatusPending)

	require.NoError(t, p.MarkExpired(time.Now()))
	assert.Equal(t, StatusExpired, p.Status)

	// A settled row cannot expire afterwards.
	settled := testPayment(StatusSuccess)
	assert.ErrorIs(t, settled.MarkExpired(time.Now()), ErrPaymentFinal)
}

// ============================================
// Gateway Response Merge Tests
// ============================================

func TestPayment_MergeGatewayResponse_KeepsExistingFields(t *testing.T) {
	p := testPayment(StatusPending)
	p.GatewayResponse.OrderID = "gw-order-1"
	p.GatewayResponse.TransactionID = "txn-1"

	p.MergeGatewayResponse(GatewayResponse{Signature: "sig-abc"})

	assert.Equal(t, "gw-order-1", p.GatewayResponse.OrderID)
	assert.Equal(t, "txn-1", p.GatewayResponse.TransactionID)
	assert.Equal(t, "sig-abc", p.GatewayResponse.Signature)
}

// ============================================
// Refund Balance Tests
// ============================================

func TestPayment_ApplyRefund_Partial(t *testing.T) {
	p := testPayment(StatusPending)
	require.NoError(t, p.MarkSuccessful(time.Now()))

	require.NoError(t, p.ApplyRefund(decimal.RequireFromString("18.00")))

	assert.True(t, p.RefundableAmount.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, p.RefundedAmount.Equal(decimal.RequireFromString("18.00")))
	// refundable + refunded always equals the original amount.
	assert.True(t, p.RefundableAmount.Add(p.RefundedAmount).Equal(p.Amount))
}

func TestPayment_ApplyRefund_FullThenNothingLeft(t *testing.T) {
	p := testPayment(StatusPending)
	require.NoError(t, p.MarkSuccessful(time.Now()))

	require.NoError(t, p.ApplyRefund(p.Amount))

	assert.True(t, p.RefundableAmount.IsZero())
	assert.False(t, p.CanRefund())
	assert.ErrorIs(t, p.ApplyRefund(decimal.RequireFromString("1.00")), ErrNotRefundable)
}

func TestPayment_ApplyRefund_ExceedsBalance(t *testing.T) {
	p := testPayment(StatusPending)
	require.NoError(t, p.MarkSuccessful(time.Now()))
	require.NoError(t, p.ApplyRefund(decimal.RequireFromString("100.00")))

	err := p.ApplyRefund(decimal.RequireFromString("19.00"))

	assert.ErrorIs(t, err, ErrExceedsRefundable)
	assert.True(t, p.RefundableAmount.Equal(decimal.RequireFromString("18.00")))
}

func TestPayment_ApplyRefund_InvalidAmount(t *testing.T) {
	p := testPayment(StatusPending)
	require.NoError(t, p.MarkSuccessful(time.Now()))

	assert.ErrorIs(t, p.ApplyRefund(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, p.ApplyRefund(decimal.RequireFromString("-5.00")), ErrInvalidAmount)
}

func TestPayment_CanRefund_OnlySettledPaymentRows(t *testing.T) {
	pending := testPayment(StatusPending)
	assert.False(t, pending.CanRefund())

	refundRow := testPayment(StatusPending)
	refundRow.Type = TypeRefund
	require.NoError(t, refundRow.MarkSuccessful(time.Now()))
	assert.False(t, refundRow.CanRefund())
}
