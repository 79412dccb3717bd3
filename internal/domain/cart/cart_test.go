package cart

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testItem(productID, machineID string, slot, qty int, price string) Item {
	return Item{
		ProductID:  productID,
		MachineID:  machineID,
		SlotNumber: slot,
		Quantity:   qty,
		UnitPrice:  decimal.RequireFromString(price),
		AddedAt:    time.Now(),
	}
}

// ============================================
// Merge Tests
// ============================================

func TestCart_MergeItem_NewLine(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())

	c.MergeItem(testItem("prod-1", "vm-1", 3, 2, "25.00"))

	assert.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.TotalItems)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("50.00")))
}

func TestCart_MergeItem_SameTripleMergesQuantity(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())

	c.MergeItem(testItem("prod-1", "vm-1", 3, 2, "25.00"))
	c.MergeItem(testItem("prod-1", "vm-1", 3, 1, "25.00"))

	assert.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("75.00")))
}

func TestCart_MergeItem_SameProductDifferentSlotKeepsLines(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())

	// Same product stocked in two slots of the same machine.
	c.MergeItem(testItem("prod-1", "vm-1", 3, 1, "25.00"))
	c.MergeItem(testItem("prod-1", "vm-1", 7, 1, "25.00"))

	assert.Len(t, c.Items, 2)
	assert.Equal(t, 2, c.TotalItems)
}

func TestCart_MergeItem_DifferentMachinesKeepLines(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())

	c.MergeItem(testItem("prod-1", "vm-1", 3, 1, "25.00"))
	c.MergeItem(testItem("prod-1", "vm-2", 3, 1, "30.00"))

	assert.Len(t, c.Items, 2)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("55.00")))
}

// ============================================
// Remove / Clear Tests
// ============================================

func TestCart_RemoveItem(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())
	c.MergeItem(testItem("prod-1", "vm-1", 3, 2, "25.00"))
	c.MergeItem(testItem("prod-2", "vm-1", 4, 1, "10.00"))

	ok := c.RemoveItem("prod-1", "vm-1", 3, time.Now())

	assert.True(t, ok)
	assert.Len(t, c.Items, 1)
	assert.Equal(t, "prod-2", c.Items[0].ProductID)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("10.00")))
}

func TestCart_RemoveItem_NotFound(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())
	c.MergeItem(testItem("prod-1", "vm-1", 3, 2, "25.00"))

	ok := c.RemoveItem("prod-1", "vm-1", 99, time.Now())

	assert.False(t, ok)
	assert.Len(t, c.Items, 1)
}

func TestCart_Clear(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())
	c.MergeItem(testItem("prod-1", "vm-1", 3, 2, "25.00"))

	c.Clear(time.Now())

	assert.Empty(t, c.Items)
	assert.Zero(t, c.TotalItems)
	assert.True(t, c.TotalAmount.IsZero())
}

// ============================================
// Totals / Expiry Tests
// ============================================

func TestCart_Recalculate_LineTotals(t *testing.T) {
	c := New("cart-1", "user-1", time.Now())
	c.Items = append(c.Items, Item{
		ProductID:  "prod-1",
		MachineID:  "vm-1",
		SlotNumber: 1,
		Quantity:   3,
		UnitPrice:  decimal.RequireFromString("12.50"),
	})

	c.Recalculate()

	assert.True(t, c.Items[0].TotalPrice.Equal(decimal.RequireFromString("37.50")))
	assert.Equal(t, 3, c.TotalItems)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("37.50")))
}

func TestCart_Expired(t *testing.T) {
	now := time.Now()
	c := New("cart-1", "user-1", now)

	assert.False(t, c.Expired(now))
	assert.False(t, c.Expired(now.Add(TTL)))
	assert.True(t, c.Expired(now.Add(TTL+time.Minute)))
}
