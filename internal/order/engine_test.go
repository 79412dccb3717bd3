package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cartsvc "github.com/example/vending-commerce/internal/cart"
	"github.com/example/vending-commerce/internal/domain/machine"
	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/domain/product"
	"github.com/example/vending-commerce/internal/events"
	"github.com/example/vending-commerce/internal/infrastructure/store"
	"github.com/example/vending-commerce/internal/infrastructure/store/memory"
)

type engineFixture struct {
	engine   *Engine
	carts    *cartsvc.Service
	machines *memory.MachineStore
	orders   *memory.OrderStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	cartStore := memory.NewCartStore()
	products := memory.NewProductStore()
	machines := memory.NewMachineStore()
	orders := memory.NewOrderStore()

	require.NoError(t, products.Save(ctx, &product.Product{ID: "prod-cola", Name: "Cola", Description: "Cold drink"}))
	require.NoError(t, products.Save(ctx, &product.Product{ID: "prod-chips", Name: "Chips"}))

	require.NoError(t, machines.Save(ctx, &machine.VendingMachine{
		ID:       "vm-1",
		Name:     "Lobby Machine",
		Location: "Building A",
		Slots: []machine.ProductSlot{
			{SlotNumber: 1, ProductID: "prod-cola", Quantity: 5, MaxCapacity: 10, Price: decimal.RequireFromString("25.00")},
			{SlotNumber: 2, ProductID: "prod-chips", Quantity: 3, MaxCapacity: 8, Price: decimal.RequireFromString("10.00")},
		},
	}))

	carts := cartsvc.NewService(cartStore, products, machines, zap.NewNop())
	engine := NewEngine(orders, machines, products, carts, events.NopPublisher{}, zap.NewNop())

	return &engineFixture{engine: engine, carts: carts, machines: machines, orders: orders}
}

func (f *engineFixture) slotQuantity(t *testing.T, slotNumber int) int {
	t.Helper()
	m, err := f.machines.Get(context.Background(), "vm-1")
	require.NoError(t, err)
	slot := m.FindSlot(slotNumber)
	require.NotNil(t, slot)
	return slot.Quantity
}

// ============================================
// CreateOrder Tests
// ============================================

func TestEngine_CreateOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "user-1", "prod-cola", "vm-1", 1, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "user-1", "prod-chips", "vm-1", 2, 1)
	require.NoError(t, err)

	o, err := f.engine.CreateOrder(ctx, "user-1", "upi", "razorpay", "")

	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, 3, o.TotalItems)
	assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("60.00")))
	assert.True(t, o.Tax.Equal(decimal.RequireFromString("10.80")))
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("70.80")))
	assert.Equal(t, "Lobby Machine", o.Delivery.MachineName)

	// Snapshot carries denormalized product data.
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Cola", o.Items[0].ProductName)
	assert.Equal(t, "Cold drink", o.Items[0].ProductDescription)

	// Stock was reserved and the cart emptied.
	assert.Equal(t, 3, f.slotQuantity(t, 1))
	assert.Equal(t, 2, f.slotQuantity(t, 2))
	c, err := f.carts.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestEngine_CreateOrder_EmptyCart(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.CreateOrder(context.Background(), "user-1", "upi", "razorpay", "")

	assert.Error(t, err)
	assert.Equal(t, 5, f.slotQuantity(t, 1))
}

func TestEngine_CreateOrder_ValidationFailureLeavesStock(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "user-1", "prod-cola", "vm-1", 1, 4)
	require.NoError(t, err)

	// Stock drops to 2 after the line was added.
	require.NoError(t, f.machines.ReserveSlot(ctx, "vm-1", 1, "prod-cola", 3))

	_, err = f.engine.CreateOrder(ctx, "user-1", "upi", "razorpay", "")

	var verr *cartsvc.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, cartsvc.IssueInsufficientStock, verr.Issues[0].Code)
	assert.Equal(t, 2, f.slotQuantity(t, 1))

	// The cart survives a failed creation.
	c, err := f.carts.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestEngine_CreateOrder_ShortSecondLineLeavesFirstUntouched(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "user-1", "prod-cola", "vm-1", 1, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "user-1", "prod-chips", "vm-1", 2, 3)
	require.NoError(t, err)

	// Chips drop below the cart line after it was added.
	require.NoError(t, f.machines.ReserveSlot(ctx, "vm-1", 2, "prod-chips", 2))

	_, err = f.engine.CreateOrder(ctx, "user-1", "upi", "razorpay", "")

	require.Error(t, err)
	// Nothing was left half-reserved.
	assert.Equal(t, 5, f.slotQuantity(t, 1))
	assert.Equal(t, 1, f.slotQuantity(t, 2))
}

// Concurrent checkouts against one slot never oversell it.
func TestEngine_CreateOrder_ConcurrentNoOversell(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	users := []string{"user-1", "user-2", "user-3", "user-4", "user-5", "user-6", "user-7", "user-8"}
	for _, u := range users {
		_, err := f.carts.AddItem(ctx, u, "prod-cola", "vm-1", 1, 1)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(users))
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := f.engine.CreateOrder(ctx, userID, "upi", "razorpay", "")
			results <- err
		}(u)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}

	// 5 units in the slot, 8 one-unit orders: exactly 5 may win.
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, f.slotQuantity(t, 1))
}

// ============================================
// Status Transition Tests
// ============================================

func createTestOrder(t *testing.T, f *engineFixture, userID string) *order.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, userID, "prod-cola", "vm-1", 1, 2)
	require.NoError(t, err)
	o, err := f.engine.CreateOrder(ctx, userID, "upi", "razorpay", "")
	require.NoError(t, err)
	return o
}

func TestEngine_UpdateStatus(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	updated, err := f.engine.UpdateStatus(ctx, o.ID, order.StatusConfirmed, "")

	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, updated.Status)
}

func TestEngine_UpdateStatus_FromTerminalRejected(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")
	_, err := f.engine.UpdateStatus(ctx, o.ID, order.StatusCompleted, "")
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, o.ID, order.StatusProcessing, "")

	assert.ErrorIs(t, err, order.ErrOrderFinal)
}

func TestEngine_UpdateStatus_CancelRestoresStock(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")
	require.Equal(t, 3, f.slotQuantity(t, 1))

	updated, err := f.engine.UpdateStatus(ctx, o.ID, order.StatusCancelled, "machine offline")

	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, updated.Status)
	assert.Equal(t, "machine offline", updated.CancelReason)
	assert.Equal(t, 5, f.slotQuantity(t, 1))
}

func TestEngine_UpdateStatus_CancelSkipsDispensedItems(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "user-1", "prod-cola", "vm-1", 1, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "user-1", "prod-chips", "vm-1", 2, 1)
	require.NoError(t, err)
	o, err := f.engine.CreateOrder(ctx, "user-1", "upi", "razorpay", "")
	require.NoError(t, err)

	// The cola already left the machine; only the chips go back.
	_, _, err = f.engine.MarkItemDispensed(ctx, o.ID, "prod-cola", 1)
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, o.ID, order.StatusCancelled, "jam")
	require.NoError(t, err)

	assert.Equal(t, 3, f.slotQuantity(t, 1))
	assert.Equal(t, 3, f.slotQuantity(t, 2))
}

func TestEngine_UpdateStatus_RestoreClippedAtCapacity(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	// The slot was refilled to capacity while the order was pending;
	// restoration cannot push past max_capacity.
	m, err := f.machines.Get(ctx, "vm-1")
	require.NoError(t, err)
	m.FindSlot(1).Quantity = 9
	require.NoError(t, f.machines.Save(ctx, m))

	_, err = f.engine.UpdateStatus(ctx, o.ID, order.StatusCancelled, "refund")
	require.NoError(t, err)

	assert.Equal(t, 10, f.slotQuantity(t, 1))
}

// ============================================
// CancelOrder Tests
// ============================================

func TestEngine_CancelOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	updated, err := f.engine.CancelOrder(ctx, o.ID, "user-1", "changed my mind")

	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, updated.Status)
	assert.Equal(t, 5, f.slotQuantity(t, 1))
}

func TestEngine_CancelOrder_WrongUser(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	_, err := f.engine.CancelOrder(ctx, o.ID, "user-2", "nope")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestEngine_CancelOrder_BlockedAfterDispensing(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")
	_, _, err := f.engine.MarkItemDispensed(ctx, o.ID, "prod-cola", 1)
	require.NoError(t, err)

	_, err = f.engine.CancelOrder(ctx, o.ID, "user-1", "too late")

	assert.ErrorIs(t, err, order.ErrNotCancellable)
	assert.Equal(t, 3, f.slotQuantity(t, 1))
}

func TestEngine_CancelOrder_AlreadyCancelled(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")
	_, err := f.engine.CancelOrder(ctx, o.ID, "user-1", "first")
	require.NoError(t, err)

	_, err = f.engine.CancelOrder(ctx, o.ID, "user-1", "second")

	assert.ErrorIs(t, err, order.ErrNotCancellable)
	// Restoration ran exactly once.
	assert.Equal(t, 5, f.slotQuantity(t, 1))
}

// ============================================
// Dispensing Tests
// ============================================

func TestEngine_MarkItemDispensed_ReportsAllDispensed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "user-1", "prod-cola", "vm-1", 1, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "user-1", "prod-chips", "vm-1", 2, 1)
	require.NoError(t, err)
	o, err := f.engine.CreateOrder(ctx, "user-1", "upi", "razorpay", "")
	require.NoError(t, err)

	_, all, err := f.engine.MarkItemDispensed(ctx, o.ID, "prod-cola", 1)
	require.NoError(t, err)
	assert.False(t, all)

	updated, all, err := f.engine.MarkItemDispensed(ctx, o.ID, "prod-chips", 2)
	require.NoError(t, err)
	assert.True(t, all)
	assert.NotNil(t, updated.Delivery.ActualDispenseTime)
	// Completion stays an explicit step.
	assert.NotEqual(t, order.StatusCompleted, updated.Status)
}

// ============================================
// Payment Hook Tests
// ============================================

func TestEngine_ConfirmPayment_AdvancesPendingOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	err := f.engine.ConfirmPayment(ctx, o.ID, "pay-1", "upi", "razorpay", o.TotalAmount)

	require.NoError(t, err)
	updated, err := f.engine.Get(ctx, o.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, updated.Status)
	assert.Equal(t, order.PaymentCompleted, updated.Payment.Status)
	assert.Equal(t, "pay-1", updated.Payment.PaymentID)
}

func TestEngine_FailPayment_CancelsAndRestores(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	err := f.engine.FailPayment(ctx, o.ID, "pay-1", "Payment failed")

	require.NoError(t, err)
	updated, err := f.engine.Get(ctx, o.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, updated.Status)
	assert.Equal(t, order.PaymentFailed, updated.Payment.Status)
	assert.Equal(t, 5, f.slotQuantity(t, 1))
}

func TestEngine_FailPayment_TerminalOrderIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")
	_, err := f.engine.CancelOrder(ctx, o.ID, "user-1", "user cancel")
	require.NoError(t, err)

	err = f.engine.FailPayment(ctx, o.ID, "pay-1", "Payment expired")

	require.NoError(t, err)
	// Stock restored once, not twice.
	assert.Equal(t, 5, f.slotQuantity(t, 1))
}

// ============================================
// Stats Tests
// ============================================

func TestEngine_Stats(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	o1 := createTestOrder(t, f, "user-1")
	o2 := createTestOrder(t, f, "user-2")
	_, err := f.engine.UpdateStatus(ctx, o1.ID, order.StatusCompleted, "")
	require.NoError(t, err)
	_, err = f.engine.CancelOrder(ctx, o2.ID, "user-2", "nah")
	require.NoError(t, err)

	stats, err := f.engine.Stats(ctx, store.OrderFilter{})

	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 1, stats.ByStatus[order.StatusCompleted].Count)
	assert.Equal(t, 1, stats.ByStatus[order.StatusCancelled].Count)
	assert.True(t, stats.TotalRevenue.Equal(o1.TotalAmount))
}

func TestEngine_Get_WrongUser(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	o := createTestOrder(t, f, "user-1")

	_, err := f.engine.Get(ctx, o.ID, "user-2")

	assert.True(t, errors.Is(err, order.ErrOrderNotFound))
}
