package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/vending-commerce/internal/domain/cart"
	"github.com/example/vending-commerce/internal/domain/product"
)

// PostgresCartStore keeps one cart row per user plus its item rows.
// Saves replace the item set wholesale; carts are small and rewritten
// on every mutation anyway.
type PostgresCartStore struct {
	db *sql.DB
}

func NewPostgresCartStore(db *sql.DB) *PostgresCartStore {
	return &PostgresCartStore{db: db}
}

func (s *PostgresCartStore) GetByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	var c cart.Cart
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, is_active, total_items, total_amount, created_at, updated_at
		FROM carts WHERE user_id = $1
	`, userID).Scan(&c.ID, &c.UserID, &c.Active, &c.TotalItems, &c.TotalAmount, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, cart.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, machine_id, slot_number, quantity, unit_price, total_price, added_at
		FROM cart_items WHERE cart_id = $1
		ORDER BY added_at
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item cart.Item
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.MachineID, &item.SlotNumber,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	return &c, rows.Err()
}

func (s *PostgresCartStore) Save(ctx context.Context, c *cart.Cart) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, is_active, total_items, total_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				id = EXCLUDED.id,
				is_active = EXCLUDED.is_active,
				total_items = EXCLUDED.total_items,
				total_amount = EXCLUDED.total_amount,
				updated_at = EXCLUDED.updated_at
		`, c.ID, c.UserID, c.Active, c.TotalItems, c.TotalAmount, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		for _, item := range c.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cart_items (cart_id, product_id, product_name, machine_id, slot_number, quantity, unit_price, total_price, added_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, c.ID, item.ProductID, item.ProductName, item.MachineID, item.SlotNumber,
				item.Quantity, item.UnitPrice, item.TotalPrice, item.AddedAt)
			if err != nil {
				return fmt.Errorf("save cart item: %w", err)
			}
		}
		return nil
	})
}

// PostgresProductStore is the catalog read surface.
type PostgresProductStore struct {
	db *sql.DB
}

func NewPostgresProductStore(db *sql.DB) *PostgresProductStore {
	return &PostgresProductStore{db: db}
}

func (s *PostgresProductStore) Get(ctx context.Context, productID string) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM products WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *PostgresProductStore) Save(ctx context.Context, p *product.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}
