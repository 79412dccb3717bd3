package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusDispensing Status = "dispensing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether the status admits no further transitions.
// This is the only transition rule the engine enforces; side branches
// (cancelled, failed, refunded) are reachable from any live state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderFinal     = errors.New("order is in a terminal state")
	ErrNotCancellable = errors.New("order can no longer be cancelled")
	ErrItemNotFound   = errors.New("order item not found")
)

// Item is an immutable snapshot of a cart line taken at order creation.
// Only the dispensed flag and timestamp ever change afterwards.
type Item struct {
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductDescription string          `json:"product_description"`
	MachineID          string          `json:"machine_id"`
	MachineName        string          `json:"machine_name"`
	SlotNumber         int             `json:"slot_number"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	Dispensed          bool            `json:"dispensed"`
	DispensedAt        *time.Time      `json:"dispensed_at,omitempty"`
}

// PaymentInfo is the order-side summary of the payment ledger. The
// ledger row is the source of truth; this mirror exists so order reads
// do not fan out.
type PaymentInfo struct {
	PaymentID  string          `json:"payment_id"`
	Method     string          `json:"method"`
	Gateway    string          `json:"gateway"`
	Status     PaymentStatus   `json:"status"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
}

// DeliveryInfo snapshots the single dispensing machine. Carts spanning
// several machines still produce one order with one delivery target,
// taken from the first cart line.
type DeliveryInfo struct {
	MachineID             string     `json:"machine_id"`
	MachineName           string     `json:"machine_name"`
	MachineLocation       string     `json:"machine_location"`
	EstimatedDispenseTime time.Time  `json:"estimated_dispense_time"`
	ActualDispenseTime    *time.Time `json:"actual_dispense_time,omitempty"`
}

type Order struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Items        []Item          `json:"items"`
	TotalItems   int             `json:"total_items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       Status          `json:"status"`
	Payment      PaymentInfo     `json:"payment_info"`
	Delivery     DeliveryInfo    `json:"delivery_info"`
	OrderDate    time.Time       `json:"order_date"`
	CompletedAt  *time.Time      `json:"completed_date,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	RefundReason string          `json:"refund_reason,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CanBeCancelled is true while nothing physical has happened yet: the
// order has not advanced past processing and no item was dispensed.
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusProcessing:
	default:
		return false
	}
	for i := range o.Items {
		if o.Items[i].Dispensed {
			return false
		}
	}
	return true
}

// AllDispensed reports whether every item has left the machine.
func (o *Order) AllDispensed() bool {
	for i := range o.Items {
		if !o.Items[i].Dispensed {
			return false
		}
	}
	return len(o.Items) > 0
}

// Transition moves the order to the target status. The only illegal
// move is leaving a terminal state.
func (o *Order) Transition(to Status, reason string, now time.Time) error {
	if o.Status.Terminal() {
		return ErrOrderFinal
	}
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusCompleted:
		o.CompletedAt = &now
	case StatusCancelled, StatusFailed:
		o.CancelReason = reason
	case StatusRefunded:
		o.RefundReason = reason
	}
	return nil
}

// MarkItemDispensed flags the matching item. It deliberately does not
// touch the order status; completion is an explicit, separate update.
func (o *Order) MarkItemDispensed(productID string, slotNumber int, now time.Time) error {
	for i := range o.Items {
		if o.Items[i].ProductID == productID && o.Items[i].SlotNumber == slotNumber {
			if !o.Items[i].Dispensed {
				o.Items[i].Dispensed = true
				o.Items[i].DispensedAt = &now
				o.UpdatedAt = now
			}
			return nil
		}
	}
	return ErrItemNotFound
}

// UndispensedItems returns the items still held in reserved stock;
// these are the ones cancellation compensates.
func (o *Order) UndispensedItems() []Item {
	var items []Item
	for i := range o.Items {
		if !o.Items[i].Dispensed {
			items = append(items, o.Items[i])
		}
	}
	return items
}
