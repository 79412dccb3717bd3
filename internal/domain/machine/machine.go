package machine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMachineNotFound   = errors.New("vending machine not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// ProductSlot is an addressable inventory position inside a machine.
// Slot quantity is the hottest shared value in the system: it is only
// ever mutated through the store's conditional reserve/restore
// operations, never by read-then-write.
type ProductSlot struct {
	SlotNumber  int             `json:"slot_number"`
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	MaxCapacity int             `json:"max_capacity"`
	Price       decimal.Decimal `json:"price"`
}

type VendingMachine struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Location  string        `json:"location"`
	Slots     []ProductSlot `json:"slots"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FindSlot returns the slot with the given number, or nil.
func (m *VendingMachine) FindSlot(slotNumber int) *ProductSlot {
	for i := range m.Slots {
		if m.Slots[i].SlotNumber == slotNumber {
			return &m.Slots[i]
		}
	}
	return nil
}

// SlotFor returns the slot only if it currently holds the given
// product. A slot that exists but was refilled with something else is
// reported as not found, matching how cart validation treats it.
func (m *VendingMachine) SlotFor(slotNumber int, productID string) *ProductSlot {
	slot := m.FindSlot(slotNumber)
	if slot == nil || slot.ProductID != productID {
		return nil
	}
	return slot
}
