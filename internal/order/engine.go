// Package order implements the order lifecycle engine: cart-to-order
// conversion with atomic inventory reservation, the order status state
// machine, and compensating restoration on cancellation.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cartsvc "github.com/example/vending-commerce/internal/cart"
	"github.com/example/vending-commerce/internal/domain/cart"
	"github.com/example/vending-commerce/internal/domain/machine"
	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/events"
	"github.com/example/vending-commerce/internal/infrastructure/store"
	"github.com/example/vending-commerce/internal/metrics"
	"github.com/example/vending-commerce/internal/pricing"
)

// estimatedDispenseLead is how far ahead the machine is expected to
// dispense after the order is placed.
const estimatedDispenseLead = 5 * time.Minute

type Engine struct {
	orders    store.OrderStore
	machines  store.MachineStore
	products  store.ProductStore
	carts     *cartsvc.Service
	publisher events.Publisher
	logger    *zap.Logger
}

func NewEngine(orders store.OrderStore, machines store.MachineStore, products store.ProductStore,
	carts *cartsvc.Service, publisher events.Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		orders:    orders,
		machines:  machines,
		products:  products,
		carts:     carts,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateOrder converts the user's active cart into an immutable order.
// Validation and reservation are treated as one unit: each slot is
// decremented conditionally, and any failure rolls back the decrements
// already applied, leaving stock and cart untouched.
func (e *Engine) CreateOrder(ctx context.Context, userID, paymentMethod, paymentGateway, notes string) (*order.Order, error) {
	c, err := e.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, cart.ErrEmptyCart
	}

	validation, err := e.carts.Validate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, &cartsvc.ValidationError{Issues: validation.Issues}
	}

	items, delivery, err := e.snapshotItems(ctx, c)
	if err != nil {
		return nil, err
	}

	// Reserve slot by slot. The conditional decrement re-checks stock
	// at write time, so a race that consumed stock after validation
	// surfaces here instead of overselling.
	var reserved []cart.Item
	for _, item := range c.Items {
		if err := e.machines.ReserveSlot(ctx, item.MachineID, item.SlotNumber, item.ProductID, item.Quantity); err != nil {
			e.rollbackReservations(ctx, reserved)
			if errors.Is(err, machine.ErrInsufficientStock) ||
				errors.Is(err, machine.ErrSlotNotFound) ||
				errors.Is(err, machine.ErrMachineNotFound) {
				return nil, &cartsvc.ValidationError{Issues: []cartsvc.LineIssue{{
					ProductID:  item.ProductID,
					MachineID:  item.MachineID,
					SlotNumber: item.SlotNumber,
					Code:       cartsvc.IssueInsufficientStock,
					Message:    err.Error(),
				}}}
			}
			return nil, fmt.Errorf("reserve slot: %w", err)
		}
		reserved = append(reserved, item)
	}

	now := time.Now()
	subtotal := c.TotalAmount
	o := &order.Order{
		ID:         uuid.New().String(),
		UserID:     userID,
		Items:      items,
		TotalItems: c.TotalItems,
		Subtotal:   subtotal,
		Tax:        pricing.Tax(subtotal),
		Status:     order.StatusPending,
		Payment: order.PaymentInfo{
			Method:     paymentMethod,
			Gateway:    paymentGateway,
			Status:     order.PaymentPending,
			PaidAmount: decimal.Zero,
		},
		Delivery:  delivery,
		OrderDate: now,
		Notes:     notes,
		UpdatedAt: now,
	}
	o.TotalAmount = o.Subtotal.Add(o.Tax)
	o.Delivery.EstimatedDispenseTime = now.Add(estimatedDispenseLead)

	if err := e.orders.Create(ctx, o); err != nil {
		e.rollbackReservations(ctx, reserved)
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := e.carts.Clear(ctx, userID); err != nil {
		e.logger.Error("clear cart after order creation",
			zap.String("order_id", o.ID), zap.String("user_id", userID), zap.Error(err))
	}

	metrics.OrdersCreated.Inc()
	e.publish(ctx, o.ID, events.EventOrderCreated, events.OrderCreated{
		OrderID:     o.ID,
		UserID:      userID,
		MachineID:   o.Delivery.MachineID,
		TotalItems:  o.TotalItems,
		TotalAmount: o.TotalAmount,
		CreatedAt:   now,
	})
	e.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
		zap.String("total_amount", o.TotalAmount.String()))
	return o, nil
}

// snapshotItems denormalizes product and machine data into the order
// item snapshot. Delivery info comes from the first cart line's
// machine; lines on other machines keep their own machine fields but
// share the single delivery target.
func (e *Engine) snapshotItems(ctx context.Context, c *cart.Cart) ([]order.Item, order.DeliveryInfo, error) {
	machineCache := make(map[string]*machine.VendingMachine)
	var delivery order.DeliveryInfo

	items := make([]order.Item, 0, len(c.Items))
	for i, line := range c.Items {
		m, ok := machineCache[line.MachineID]
		if !ok {
			var err error
			m, err = e.machines.Get(ctx, line.MachineID)
			if err != nil {
				return nil, delivery, fmt.Errorf("load machine %s: %w", line.MachineID, err)
			}
			machineCache[line.MachineID] = m
		}
		p, err := e.products.Get(ctx, line.ProductID)
		if err != nil {
			return nil, delivery, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}

		if i == 0 {
			delivery = order.DeliveryInfo{
				MachineID:       m.ID,
				MachineName:     m.Name,
				MachineLocation: m.Location,
			}
		}

		items = append(items, order.Item{
			ProductID:          line.ProductID,
			ProductName:        p.Name,
			ProductDescription: p.Description,
			MachineID:          line.MachineID,
			MachineName:        m.Name,
			SlotNumber:         line.SlotNumber,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice,
			TotalPrice:         line.TotalPrice,
		})
	}
	return items, delivery, nil
}

func (e *Engine) rollbackReservations(ctx context.Context, reserved []cart.Item) {
	for _, item := range reserved {
		if _, err := e.machines.RestoreSlot(ctx, item.MachineID, item.SlotNumber, item.ProductID, item.Quantity); err != nil {
			e.logger.Error("rollback reservation",
				zap.String("machine_id", item.MachineID),
				zap.Int("slot", item.SlotNumber),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}
}

// UpdateStatus transitions the order. The only rejected move is
// leaving a terminal state; transitioning to cancelled restores stock
// for every item not yet dispensed.
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, to order.Status, reason string) (*order.Order, error) {
	now := time.Now()
	updated, err := e.orders.UpdateLocked(ctx, orderID, func(o *order.Order) error {
		return o.Transition(to, reason, now)
	})
	if err != nil {
		return nil, err
	}

	switch to {
	case order.StatusCancelled:
		e.restoreInventory(ctx, updated)
		metrics.OrdersCancelled.Inc()
		e.publish(ctx, orderID, events.EventOrderCancelled, events.OrderCancelled{
			OrderID:     orderID,
			Reason:      reason,
			CancelledAt: now,
		})
	default:
		e.publish(ctx, orderID, events.EventOrderStatusSet, events.OrderStatusSet{
			OrderID: orderID,
			Status:  string(to),
			SetAt:   now,
		})
	}
	return updated, nil
}

// CancelOrder is the user-facing cancellation: allowed only while the
// order is still pending/confirmed/processing with nothing dispensed.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID, reason string) (*order.Order, error) {
	now := time.Now()
	updated, err := e.orders.UpdateLocked(ctx, orderID, func(o *order.Order) error {
		if o.UserID != userID {
			return order.ErrOrderNotFound
		}
		if !o.CanBeCancelled() {
			return order.ErrNotCancellable
		}
		return o.Transition(order.StatusCancelled, reason, now)
	})
	if err != nil {
		return nil, err
	}

	e.restoreInventory(ctx, updated)
	metrics.OrdersCancelled.Inc()
	e.publish(ctx, orderID, events.EventOrderCancelled, events.OrderCancelled{
		OrderID:     orderID,
		Reason:      reason,
		CancelledAt: now,
	})
	e.logger.Info("order cancelled",
		zap.String("order_id", orderID), zap.String("reason", reason))
	return updated, nil
}

// restoreInventory compensates the reservation for every undispensed
// item. Each item restores independently: a machine or slot that
// disappeared is logged and skipped, never fatal to the rest.
// Restoration only runs after a successful transition into cancelled,
// which the row lock serializes, so concurrent cancellation paths
// cannot double-restore.
func (e *Engine) restoreInventory(ctx context.Context, o *order.Order) {
	for _, item := range o.UndispensedItems() {
		restored, err := e.machines.RestoreSlot(ctx, item.MachineID, item.SlotNumber, item.ProductID, item.Quantity)
		if err != nil {
			metrics.RestoreFailures.Inc()
			e.logger.Warn("inventory restore skipped",
				zap.String("order_id", o.ID),
				zap.String("machine_id", item.MachineID),
				zap.Int("slot", item.SlotNumber),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			continue
		}
		metrics.SlotsRestored.Add(float64(restored))
		if restored < item.Quantity {
			e.logger.Warn("inventory restore clipped at capacity",
				zap.String("order_id", o.ID),
				zap.String("machine_id", item.MachineID),
				zap.Int("slot", item.SlotNumber),
				zap.Int("requested", item.Quantity),
				zap.Int("restored", restored))
		}
	}
}

// ConfirmPayment records a settled payment on the order and advances a
// pending order to confirmed.
func (e *Engine) ConfirmPayment(ctx context.Context, orderID, paymentID, method, gateway string, paid decimal.Decimal) error {
	now := time.Now()
	_, err := e.orders.UpdateLocked(ctx, orderID, func(o *order.Order) error {
		o.Payment.PaymentID = paymentID
		o.Payment.Method = method
		o.Payment.Gateway = gateway
		o.Payment.Status = order.PaymentCompleted
		o.Payment.PaidAmount = paid
		if o.Status == order.StatusPending {
			o.Status = order.StatusConfirmed
		}
		o.UpdatedAt = now
		return nil
	})
	return err
}

// FailPayment records the failure and cancels the order, restoring
// stock. An order already in a terminal state is left alone, which
// makes webhook replays and sweeper/cancel races no-ops.
func (e *Engine) FailPayment(ctx context.Context, orderID, paymentID, reason string) error {
	now := time.Now()
	updated, err := e.orders.UpdateLocked(ctx, orderID, func(o *order.Order) error {
		if o.Status.Terminal() {
			return order.ErrOrderFinal
		}
		o.Payment.PaymentID = paymentID
		o.Payment.Status = order.PaymentFailed
		return o.Transition(order.StatusCancelled, reason, now)
	})
	if errors.Is(err, order.ErrOrderFinal) {
		return nil
	}
	if err != nil {
		return err
	}

	e.restoreInventory(ctx, updated)
	metrics.OrdersCancelled.Inc()
	e.publish(ctx, orderID, events.EventOrderCancelled, events.OrderCancelled{
		OrderID:     orderID,
		Reason:      reason,
		CancelledAt: now,
	})
	return nil
}

// MarkItemDispensed flags one item as dispensed. It never changes the
// order status; callers are told whether everything is out so they can
// issue the explicit completion update.
func (e *Engine) MarkItemDispensed(ctx context.Context, orderID, productID string, slotNumber int) (*order.Order, bool, error) {
	now := time.Now()
	updated, err := e.orders.UpdateLocked(ctx, orderID, func(o *order.Order) error {
		if err := o.MarkItemDispensed(productID, slotNumber, now); err != nil {
			return err
		}
		if o.AllDispensed() && o.Delivery.ActualDispenseTime == nil {
			o.Delivery.ActualDispenseTime = &now
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, updated.AllDispensed(), nil
}

// Get returns the order, scoped to its owner.
func (e *Engine) Get(ctx context.Context, orderID, userID string) (*order.Order, error) {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func (e *Engine) publish(ctx context.Context, key, eventType string, payload any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, key, events.Envelope{Type: eventType, Payload: payload}); err != nil {
		e.logger.Error("publish event", zap.String("type", eventType), zap.String("key", key), zap.Error(err))
	}
}
