// Package cart implements the cart manager: one active cart per user,
// validated against live machine inventory on every mutation.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/vending-commerce/internal/domain/cart"
	"github.com/example/vending-commerce/internal/domain/machine"
	"github.com/example/vending-commerce/internal/infrastructure/store"
	"github.com/example/vending-commerce/internal/pricing"
)

type Service struct {
	carts    store.CartStore
	products store.ProductStore
	machines store.MachineStore
	logger   *zap.Logger
}

func NewService(carts store.CartStore, products store.ProductStore, machines store.MachineStore, logger *zap.Logger) *Service {
	return &Service{carts: carts, products: products, machines: machines, logger: logger}
}

// GetOrCreate returns the user's active cart, creating one lazily.
// An expired or deactivated cart is replaced by a fresh one.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*cart.Cart, error) {
	now := time.Now()
	c, err := s.carts.GetByUser(ctx, userID)
	switch {
	case err == cart.ErrCartNotFound:
		c = cart.New(uuid.New().String(), userID, now)
	case err != nil:
		return nil, fmt.Errorf("load cart: %w", err)
	case !c.Active || c.Expired(now):
		c = cart.New(uuid.New().String(), userID, now)
	default:
		return c, nil
	}

	if err := s.carts.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

// AddItem appends or merges a line after checking the slot can cover
// the merged quantity at its current price.
func (s *Service) AddItem(ctx context.Context, userID, productID, machineID string, slotNumber, quantity int) (*cart.Cart, error) {
	if quantity <= 0 {
		return nil, cart.ErrInvalidQuantity
	}

	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	m, err := s.machines.Get(ctx, machineID)
	if err != nil {
		return nil, err
	}
	slot := m.SlotFor(slotNumber, productID)
	if slot == nil {
		return nil, machine.ErrSlotNotFound
	}

	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The availability check covers the merged line, not just the
	// increment, so repeated adds cannot creep past the slot stock.
	requested := quantity
	if idx := c.FindItem(productID, machineID, slotNumber); idx >= 0 {
		requested += c.Items[idx].Quantity
	}
	if requested > slot.Quantity {
		return nil, cart.ErrOutOfStock
	}

	c.MergeItem(cart.Item{
		ProductID:   productID,
		ProductName: p.Name,
		MachineID:   machineID,
		SlotNumber:  slotNumber,
		Quantity:    quantity,
		UnitPrice:   slot.Price,
		AddedAt:     time.Now(),
	})

	if err := s.carts.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

// UpdateItemQuantity replaces a line's quantity. Zero delegates to
// removal.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, productID, machineID string, slotNumber, quantity int) (*cart.Cart, error) {
	if quantity < 0 {
		return nil, cart.ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, productID, machineID, slotNumber)
	}

	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	idx := c.FindItem(productID, machineID, slotNumber)
	if idx < 0 {
		return nil, cart.ErrItemNotFound
	}

	m, err := s.machines.Get(ctx, machineID)
	if err != nil {
		return nil, err
	}
	slot := m.SlotFor(slotNumber, productID)
	if slot == nil {
		return nil, machine.ErrSlotNotFound
	}
	if quantity > slot.Quantity {
		return nil, cart.ErrOutOfStock
	}

	c.Items[idx].Quantity = quantity
	c.Recalculate()
	c.UpdatedAt = time.Now()

	if err := s.carts.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID, machineID string, slotNumber int) (*cart.Cart, error) {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !c.RemoveItem(productID, machineID, slotNumber, time.Now()) {
		return nil, cart.ErrItemNotFound
	}
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

// Clear empties the cart; the record stays.
func (s *Service) Clear(ctx context.Context, userID string) error {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	c.Clear(time.Now())
	if err := s.carts.Save(ctx, c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Validate re-checks every line against current machine state. It
// flags mismatches but never corrects the cart itself.
func (s *Service) Validate(ctx context.Context, userID string) (*ValidationResult, error) {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Valid: true}
	machineCache := make(map[string]*machine.VendingMachine)

	for _, item := range c.Items {
		m, ok := machineCache[item.MachineID]
		if !ok {
			m, err = s.machines.Get(ctx, item.MachineID)
			if err == machine.ErrMachineNotFound {
				m = nil
			} else if err != nil {
				return nil, fmt.Errorf("load machine %s: %w", item.MachineID, err)
			}
			machineCache[item.MachineID] = m
		}

		if m == nil {
			result.flag(item, IssueMachineUnavailable, "machine unavailable")
			continue
		}
		slot := m.SlotFor(item.SlotNumber, item.ProductID)
		if slot == nil {
			result.flag(item, IssueSlotMismatch, "slot no longer has this product")
			continue
		}
		if slot.Quantity < item.Quantity {
			result.flag(item, IssueInsufficientStock,
				fmt.Sprintf("insufficient stock: only %d available", slot.Quantity))
			continue
		}
		if !slot.Price.Equal(item.UnitPrice) {
			result.flag(item, IssuePriceChanged,
				fmt.Sprintf("price changed from %s to %s", item.UnitPrice, slot.Price))
		}
	}
	return result, nil
}

// Summarize computes totals with tax and groups lines by machine for
// display. An empty cart yields a zeroed summary.
func (s *Service) Summarize(ctx context.Context, userID string) (*Summary, error) {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Subtotal:    decimal.Zero,
		Tax:         decimal.Zero,
		FinalAmount: decimal.Zero,
	}
	if len(c.Items) == 0 {
		return summary, nil
	}

	groups := make(map[string]*MachineGroup)
	var order []string
	for _, item := range c.Items {
		g, ok := groups[item.MachineID]
		if !ok {
			g = &MachineGroup{MachineID: item.MachineID, Subtotal: decimal.Zero}
			groups[item.MachineID] = g
			order = append(order, item.MachineID)
		}
		g.Items = append(g.Items, item)
		g.Subtotal = g.Subtotal.Add(item.TotalPrice)
	}
	for _, id := range order {
		summary.Machines = append(summary.Machines, *groups[id])
	}

	summary.TotalItems = c.TotalItems
	summary.Subtotal = c.TotalAmount
	summary.Tax = pricing.Tax(c.TotalAmount)
	summary.FinalAmount = summary.Subtotal.Add(summary.Tax)
	return summary, nil
}
