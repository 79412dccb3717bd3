package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TTL is how long an abandoned cart stays usable. A cart whose last
// update is older than this is treated as new on next access.
const TTL = 24 * time.Hour

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotFound    = errors.New("item not in cart")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrOutOfStock      = errors.New("requested quantity exceeds available stock")
	ErrEmptyCart       = errors.New("cart is empty")
)

// Item is one cart line. Lines are identified by the
// (product, machine, slot) triple; adding the same triple again merges
// quantities instead of appending a duplicate line.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	MachineID   string          `json:"machine_id"`
	SlotNumber  int             `json:"slot_number"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	AddedAt     time.Time       `json:"added_at"`
}

// Matches reports whether the line is for the given identity key.
func (i *Item) Matches(productID, machineID string, slotNumber int) bool {
	return i.ProductID == productID && i.MachineID == machineID && i.SlotNumber == slotNumber
}

type Cart struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Active      bool            `json:"is_active"`
	Items       []Item          `json:"items"`
	TotalItems  int             `json:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// New returns an empty active cart for the user.
func New(id, userID string, now time.Time) *Cart {
	return &Cart{
		ID:          id,
		UserID:      userID,
		Active:      true,
		Items:       []Item{},
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Recalculate rederives line totals and the cart aggregates. Every
// mutation goes through it so TotalItems and TotalAmount never drift
// from the lines.
func (c *Cart) Recalculate() {
	totalItems := 0
	totalAmount := decimal.Zero
	for i := range c.Items {
		c.Items[i].TotalPrice = c.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(c.Items[i].Quantity)))
		totalItems += c.Items[i].Quantity
		totalAmount = totalAmount.Add(c.Items[i].TotalPrice)
	}
	c.TotalItems = totalItems
	c.TotalAmount = totalAmount
}

// FindItem returns the index of the line with the given identity key,
// or -1.
func (c *Cart) FindItem(productID, machineID string, slotNumber int) int {
	for i := range c.Items {
		if c.Items[i].Matches(productID, machineID, slotNumber) {
			return i
		}
	}
	return -1
}

// MergeItem adds the line, merging into an existing line with the same
// identity key, and recomputes totals.
func (c *Cart) MergeItem(item Item) {
	if idx := c.FindItem(item.ProductID, item.MachineID, item.SlotNumber); idx >= 0 {
		c.Items[idx].Quantity += item.Quantity
		c.Items[idx].UnitPrice = item.UnitPrice
	} else {
		c.Items = append(c.Items, item)
	}
	c.Recalculate()
	c.UpdatedAt = item.AddedAt
}

// RemoveItem drops the matching line and recomputes totals. It returns
// false if no line matched.
func (c *Cart) RemoveItem(productID, machineID string, slotNumber int, now time.Time) bool {
	idx := c.FindItem(productID, machineID, slotNumber)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.Recalculate()
	c.UpdatedAt = now
	return true
}

// Clear empties the cart but keeps the row; the cart record itself is
// never deleted, only its lines.
func (c *Cart) Clear(now time.Time) {
	c.Items = []Item{}
	c.Recalculate()
	c.UpdatedAt = now
}

// Expired reports whether the cart was abandoned past its TTL.
func (c *Cart) Expired(now time.Time) bool {
	return now.Sub(c.UpdatedAt) > TTL
}
