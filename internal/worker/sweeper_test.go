package worker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cartsvc "github.com/example/vending-commerce/internal/cart"
	"github.com/example/vending-commerce/internal/domain/machine"
	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/domain/payment"
	"github.com/example/vending-commerce/internal/domain/product"
	"github.com/example/vending-commerce/internal/events"
	"github.com/example/vending-commerce/internal/infrastructure/store/memory"
	ordersvc "github.com/example/vending-commerce/internal/order"
	paymentsvc "github.com/example/vending-commerce/internal/payment"
)

type sweeperFixture struct {
	sweeper  *Sweeper
	ledger   *paymentsvc.Ledger
	engine   *ordersvc.Engine
	carts    *cartsvc.Service
	payments *memory.PaymentStore
	orders   *memory.OrderStore
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	ctx := context.Background()

	cartStore := memory.NewCartStore()
	products := memory.NewProductStore()
	machines := memory.NewMachineStore()
	orders := memory.NewOrderStore()
	payments := memory.NewPaymentStore()

	require.NoError(t, products.Save(ctx, &product.Product{ID: "prod-cola", Name: "Cola"}))
	require.NoError(t, machines.Save(ctx, &machine.VendingMachine{
		ID: "vm-1",
		Slots: []machine.ProductSlot{
			{SlotNumber: 1, ProductID: "prod-cola", Quantity: 5, MaxCapacity: 10, Price: decimal.RequireFromString("100.00")},
		},
	}))

	carts := cartsvc.NewService(cartStore, products, machines, zap.NewNop())
	engine := ordersvc.NewEngine(orders, machines, products, carts, events.NopPublisher{}, zap.NewNop())
	registry := paymentsvc.NewRegistry(&paymentsvc.MockAdapter{})
	ledger := paymentsvc.NewLedger(payments, orders, engine, registry, events.NopPublisher{}, zap.NewNop())

	return &sweeperFixture{
		sweeper:  NewSweeper(payments, ledger, time.Minute, zap.NewNop()),
		ledger:   ledger,
		engine:   engine,
		carts:    carts,
		payments: payments,
		orders:   orders,
	}
}

func (f *sweeperFixture) initiatedPayment(t *testing.T, userID string) (*order.Order, *payment.Payment) {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, userID, "prod-cola", "vm-1", 1, 1)
	require.NoError(t, err)
	o, err := f.engine.CreateOrder(ctx, userID, "upi", "mock", "")
	require.NoError(t, err)
	p, _, err := f.ledger.Initiate(ctx, userID, o.ID, "mock", "upi", "", o.TotalAmount)
	require.NoError(t, err)
	return o, p
}

func backdate(t *testing.T, f *sweeperFixture, paymentID string) {
	t.Helper()
	_, err := f.payments.UpdateLocked(context.Background(), paymentID, func(row *payment.Payment) error {
		row.ExpiresAt = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)
}

func TestSweeper_Sweep_ExpiresOverduePayments(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	overdueOrder, overdue := f.initiatedPayment(t, "user-1")
	_, fresh := f.initiatedPayment(t, "user-2")
	backdate(t, f, overdue.ID)

	f.sweeper.Sweep(ctx)

	expired, err := f.payments.Get(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, expired.Status)

	cancelled, err := f.orders.Get(ctx, overdueOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	untouched, err := f.payments.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, untouched.Status)
}

func TestSweeper_Sweep_SettledRowNotExpired(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	_, p := f.initiatedPayment(t, "user-1")
	require.NoError(t, f.ledger.ProcessWebhook(ctx, paymentsvc.WebhookPayload{
		PaymentID: p.ID, Status: "success", TransactionID: "txn-1",
	}))
	backdate(t, f, p.ID)

	f.sweeper.Sweep(ctx)

	row, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, row.Status)
}

func TestSweeper_Sweep_Idempotent(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	_, p := f.initiatedPayment(t, "user-1")
	backdate(t, f, p.ID)

	f.sweeper.Sweep(ctx)
	f.sweeper.Sweep(ctx)

	row, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, row.Status)
}
