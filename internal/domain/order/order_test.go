package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(status Status) *Order {
	return &Order{
		ID:     "order-1",
		UserID: "user-1",
		Status: status,
		Items: []Item{
			{ProductID: "prod-1", SlotNumber: 3, Quantity: 2, UnitPrice: decimal.RequireFromString("25.00")},
			{ProductID: "prod-2", SlotNumber: 4, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
	}
}

// ============================================
// Transition Tests
// ============================================

func TestOrder_Transition_HappyPath(t *testing.T) {
	o := testOrder(StatusPending)
	now := time.Now()

	for _, status := range []Status{StatusConfirmed, StatusProcessing, StatusDispensing, StatusCompleted} {
		require.NoError(t, o.Transition(status, "", now))
		assert.Equal(t, status, o.Status)
	}
	require.NotNil(t, o.CompletedAt)
	assert.Equal(t, now, *o.CompletedAt)
}

func TestOrder_Transition_FromTerminalRejected(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusFailed, StatusRefunded} {
		o := testOrder(status)
		err := o.Transition(StatusProcessing, "", time.Now())
		assert.ErrorIs(t, err, ErrOrderFinal, "from %s", status)
		assert.Equal(t, status, o.Status)
	}
}

func TestOrder_Transition_CancelRecordsReason(t *testing.T) {
	o := testOrder(StatusConfirmed)

	require.NoError(t, o.Transition(StatusCancelled, "changed my mind", time.Now()))

	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "changed my mind", o.CancelReason)
}

func TestOrder_Transition_SkippingStatesAllowed(t *testing.T) {
	o := testOrder(StatusPending)

	// No adjacency rule: pending straight to completed is legal.
	require.NoError(t, o.Transition(StatusCompleted, "", time.Now()))
	assert.Equal(t, StatusCompleted, o.Status)
}

// ============================================
// Cancellation Guard Tests
// ============================================

func TestOrder_CanBeCancelled(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusConfirmed, StatusProcessing} {
		assert.True(t, testOrder(status).CanBeCancelled(), "status %s", status)
	}
	for _, status := range []Status{StatusDispensing, StatusCompleted, StatusCancelled, StatusFailed, StatusRefunded} {
		assert.False(t, testOrder(status).CanBeCancelled(), "status %s", status)
	}
}

func TestOrder_CanBeCancelled_BlockedByDispensedItem(t *testing.T) {
	o := testOrder(StatusProcessing)
	require.NoError(t, o.MarkItemDispensed("prod-1", 3, time.Now()))

	assert.False(t, o.CanBeCancelled())
}

// ============================================
// Dispensing Tests
// ============================================

func TestOrder_MarkItemDispensed(t *testing.T) {
	o := testOrder(StatusDispensing)
	now := time.Now()

	require.NoError(t, o.MarkItemDispensed("prod-1", 3, now))

	assert.True(t, o.Items[0].Dispensed)
	require.NotNil(t, o.Items[0].DispensedAt)
	assert.False(t, o.AllDispensed())
	assert.Len(t, o.UndispensedItems(), 1)
}

func TestOrder_MarkItemDispensed_Idempotent(t *testing.T) {
	o := testOrder(StatusDispensing)
	first := time.Now()
	require.NoError(t, o.MarkItemDispensed("prod-1", 3, first))

	require.NoError(t, o.MarkItemDispensed("prod-1", 3, first.Add(time.Minute)))

	assert.Equal(t, first, *o.Items[0].DispensedAt)
}

func TestOrder_MarkItemDispensed_NotFound(t *testing.T) {
	o := testOrder(StatusDispensing)

	err := o.MarkItemDispensed("prod-99", 3, time.Now())

	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestOrder_AllDispensed(t *testing.T) {
	o := testOrder(StatusDispensing)
	now := time.Now()

	require.NoError(t, o.MarkItemDispensed("prod-1", 3, now))
	require.NoError(t, o.MarkItemDispensed("prod-2", 4, now))

	assert.True(t, o.AllDispensed())
	assert.Empty(t, o.UndispensedItems())
	// Dispensing everything does not complete the order by itself.
	assert.Equal(t, StatusDispensing, o.Status)
}

func TestOrder_AllDispensed_EmptyOrderIsFalse(t *testing.T) {
	o := &Order{Status: StatusPending}
	assert.False(t, o.AllDispensed())
}
