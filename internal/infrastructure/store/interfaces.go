package store

import (
	"context"
	"time"

	"github.com/example/vending-commerce/internal/domain/cart"
	"github.com/example/vending-commerce/internal/domain/machine"
	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/domain/payment"
	"github.com/example/vending-commerce/internal/domain/product"
)

// MachineStore persists vending machines and owns the two inventory
// primitives. ReserveSlot must be atomic at the store level
// ("decrement iff quantity >= n"); read-then-write reservations can
// oversell a slot under concurrent orders.
type MachineStore interface {
	Get(ctx context.Context, machineID string) (*machine.VendingMachine, error)
	Save(ctx context.Context, m *machine.VendingMachine) error

	// ReserveSlot conditionally decrements the slot quantity. It
	// returns machine.ErrInsufficientStock when the slot holds less
	// than requested, and machine.ErrSlotNotFound when the slot is
	// missing or holds a different product.
	ReserveSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) error

	// RestoreSlot increments the slot quantity, capped at the slot's
	// max capacity. It returns the amount actually restored, which may
	// be less than requested when the cap clips it.
	RestoreSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) (int, error)
}

// ProductStore is the read surface of the catalog.
type ProductStore interface {
	Get(ctx context.Context, productID string) (*product.Product, error)
	Save(ctx context.Context, p *product.Product) error
}

// CartStore keeps one cart record per user.
type CartStore interface {
	GetByUser(ctx context.Context, userID string) (*cart.Cart, error)
	Save(ctx context.Context, c *cart.Cart) error
}

// OrderFilter narrows order queries; zero values match everything.
type OrderFilter struct {
	UserID    string
	MachineID string
}

// OrderStore persists orders. UpdateLocked serializes concurrent
// status transitions on the same order: apply runs with the row held
// exclusively, and its error aborts the update.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, orderID string) (*order.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*order.Order, error)
	UpdateLocked(ctx context.Context, orderID string, apply func(*order.Order) error) (*order.Order, error)
}

// PaymentFilter narrows payment queries; zero values match everything.
type PaymentFilter struct {
	UserID    string
	MachineID string
}

// PaymentStore persists ledger rows. Like OrderStore, UpdateLocked is
// the serialization point for webhook-driven transitions.
type PaymentStore interface {
	Create(ctx context.Context, p *payment.Payment) error
	Get(ctx context.Context, paymentID string) (*payment.Payment, error)
	List(ctx context.Context, filter PaymentFilter) ([]*payment.Payment, error)

	// SuccessfulPaymentForOrder returns the successful payment-type
	// row for the order, or payment.ErrPaymentNotFound if none exists.
	SuccessfulPaymentForOrder(ctx context.Context, orderID string) (*payment.Payment, error)

	// ListExpired returns pending/processing payment-type rows whose
	// expiry has passed; the sweeper feeds on it.
	ListExpired(ctx context.Context, now time.Time) ([]*payment.Payment, error)

	UpdateLocked(ctx context.Context, paymentID string, apply func(*payment.Payment) error) (*payment.Payment, error)
}
