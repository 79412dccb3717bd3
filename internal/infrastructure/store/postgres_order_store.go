package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/vending-commerce/internal/domain/order"
)

// PostgresOrderStore persists order snapshots. UpdateLocked takes a
// row lock (SELECT ... FOR UPDATE) so concurrent transitions on the
// same order serialize at the database.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

const orderColumns = `
	id, user_id, total_items, subtotal, tax, total_amount, status,
	payment_id, payment_method, payment_gateway, payment_status, paid_amount,
	machine_id, machine_name, machine_location, estimated_dispense_at, actual_dispense_at,
	order_date, completed_date, cancel_reason, refund_reason, notes, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanOrder(row *sql.Row) (*order.Order, error) {
	var o order.Order
	var actualDispense, completed sql.NullTime
	var cancelReason, refundReason, notes sql.NullString
	err := row.Scan(
		&o.ID, &o.UserID, &o.TotalItems, &o.Subtotal, &o.Tax, &o.TotalAmount, &o.Status,
		&o.Payment.PaymentID, &o.Payment.Method, &o.Payment.Gateway, &o.Payment.Status, &o.Payment.PaidAmount,
		&o.Delivery.MachineID, &o.Delivery.MachineName, &o.Delivery.MachineLocation,
		&o.Delivery.EstimatedDispenseTime, &actualDispense,
		&o.OrderDate, &completed, &cancelReason, &refundReason, &notes, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if actualDispense.Valid {
		o.Delivery.ActualDispenseTime = &actualDispense.Time
	}
	if completed.Valid {
		o.CompletedAt = &completed.Time
	}
	o.CancelReason = cancelReason.String
	o.RefundReason = refundReason.String
	o.Notes = notes.String
	return &o, nil
}

func loadOrderItems(ctx context.Context, q querier, o *order.Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, product_description, machine_id, machine_name,
		       slot_number, quantity, unit_price, total_price, dispensed, dispensed_at
		FROM order_items WHERE order_id = $1
		ORDER BY slot_number, product_id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item order.Item
		var dispensedAt sql.NullTime
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.ProductDescription,
			&item.MachineID, &item.MachineName, &item.SlotNumber, &item.Quantity,
			&item.UnitPrice, &item.TotalPrice, &item.Dispensed, &dispensedAt); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if dispensedAt.Valid {
			item.DispensedAt = &dispensedAt.Time
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func (s *PostgresOrderStore) Create(ctx context.Context, o *order.Order) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		`, o.ID, o.UserID, o.TotalItems, o.Subtotal, o.Tax, o.TotalAmount, o.Status,
			o.Payment.PaymentID, o.Payment.Method, o.Payment.Gateway, o.Payment.Status, o.Payment.PaidAmount,
			o.Delivery.MachineID, o.Delivery.MachineName, o.Delivery.MachineLocation,
			o.Delivery.EstimatedDispenseTime, o.Delivery.ActualDispenseTime,
			o.OrderDate, o.CompletedAt, nullable(o.CancelReason), nullable(o.RefundReason), nullable(o.Notes), o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range o.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, product_name, product_description,
					machine_id, machine_name, slot_number, quantity, unit_price, total_price, dispensed, dispensed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			`, o.ID, item.ProductID, item.ProductName, item.ProductDescription,
				item.MachineID, item.MachineName, item.SlotNumber, item.Quantity,
				item.UnitPrice, item.TotalPrice, item.Dispensed, item.DispensedAt)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresOrderStore) Get(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, err
	}
	if err := loadOrderItems(ctx, s.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresOrderStore) List(ctx context.Context, filter OrderFilter) ([]*order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.MachineID != "" {
		args = append(args, filter.MachineID)
		query += fmt.Sprintf(" AND machine_id = $%d", len(args))
	}
	query += " ORDER BY order_date DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		var o order.Order
		var actualDispense, completed sql.NullTime
		var cancelReason, refundReason, notes sql.NullString
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.TotalItems, &o.Subtotal, &o.Tax, &o.TotalAmount, &o.Status,
			&o.Payment.PaymentID, &o.Payment.Method, &o.Payment.Gateway, &o.Payment.Status, &o.Payment.PaidAmount,
			&o.Delivery.MachineID, &o.Delivery.MachineName, &o.Delivery.MachineLocation,
			&o.Delivery.EstimatedDispenseTime, &actualDispense,
			&o.OrderDate, &completed, &cancelReason, &refundReason, &notes, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if actualDispense.Valid {
			o.Delivery.ActualDispenseTime = &actualDispense.Time
		}
		if completed.Valid {
			o.CompletedAt = &completed.Time
		}
		o.CancelReason = cancelReason.String
		o.RefundReason = refundReason.String
		o.Notes = notes.String
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if err := loadOrderItems(ctx, s.db, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PostgresOrderStore) UpdateLocked(ctx context.Context, orderID string, apply func(*order.Order) error) (*order.Order, error) {
	var result *order.Order
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			return err
		}
		if err := loadOrderItems(ctx, tx, o); err != nil {
			return err
		}

		if err := apply(o); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET
				status = $2, payment_id = $3, payment_method = $4, payment_gateway = $5,
				payment_status = $6, paid_amount = $7, actual_dispense_at = $8,
				completed_date = $9, cancel_reason = $10, refund_reason = $11, notes = $12, updated_at = $13
			WHERE id = $1
		`, o.ID, o.Status, o.Payment.PaymentID, o.Payment.Method, o.Payment.Gateway,
			o.Payment.Status, o.Payment.PaidAmount, o.Delivery.ActualDispenseTime,
			o.CompletedAt, nullable(o.CancelReason), nullable(o.RefundReason), nullable(o.Notes), o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		for _, item := range o.Items {
			_, err := tx.ExecContext(ctx, `
				UPDATE order_items SET dispensed = $4, dispensed_at = $5
				WHERE order_id = $1 AND product_id = $2 AND slot_number = $3
			`, o.ID, item.ProductID, item.SlotNumber, item.Dispensed, item.DispensedAt)
			if err != nil {
				return fmt.Errorf("update order item: %w", err)
			}
		}

		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
