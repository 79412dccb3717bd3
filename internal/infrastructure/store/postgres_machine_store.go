package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/vending-commerce/internal/domain/machine"
)

// PostgresMachineStore implements MachineStore on PostgreSQL. Slots are
// rows in machine_slots; the reserve primitive is a single conditional
// UPDATE so concurrent reservations can never drive a slot negative.
type PostgresMachineStore struct {
	db *sql.DB
}

func NewPostgresMachineStore(db *sql.DB) *PostgresMachineStore {
	return &PostgresMachineStore{db: db}
}

func (s *PostgresMachineStore) Get(ctx context.Context, machineID string) (*machine.VendingMachine, error) {
	var m machine.VendingMachine
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, created_at, updated_at
		FROM vending_machines WHERE id = $1
	`, machineID).Scan(&m.ID, &m.Name, &m.Location, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, machine.ErrMachineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get machine: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_number, product_id, quantity, max_capacity, price
		FROM machine_slots WHERE machine_id = $1
		ORDER BY slot_number
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("get machine slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot machine.ProductSlot
		if err := rows.Scan(&slot.SlotNumber, &slot.ProductID, &slot.Quantity, &slot.MaxCapacity, &slot.Price); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		m.Slots = append(m.Slots, slot)
	}
	return &m, rows.Err()
}

func (s *PostgresMachineStore) Save(ctx context.Context, m *machine.VendingMachine) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vending_machines (id, name, location, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				location = EXCLUDED.location,
				updated_at = EXCLUDED.updated_at
		`, m.ID, m.Name, m.Location, m.CreatedAt, time.Now())
		if err != nil {
			return fmt.Errorf("save machine: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM machine_slots WHERE machine_id = $1`, m.ID); err != nil {
			return fmt.Errorf("clear slots: %w", err)
		}
		for _, slot := range m.Slots {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO machine_slots (machine_id, slot_number, product_id, quantity, max_capacity, price)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, m.ID, slot.SlotNumber, slot.ProductID, slot.Quantity, slot.MaxCapacity, slot.Price)
			if err != nil {
				return fmt.Errorf("save slot %d: %w", slot.SlotNumber, err)
			}
		}
		return nil
	})
}

// ReserveSlot decrements iff enough stock remains. Zero rows affected
// means either insufficient stock or a missing/repurposed slot; a
// follow-up read disambiguates the error.
func (s *PostgresMachineStore) ReserveSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) error {
	if quantity <= 0 {
		return machine.ErrInvalidQuantity
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE machine_slots
		SET quantity = quantity - $4
		WHERE machine_id = $1 AND slot_number = $2 AND product_id = $3 AND quantity >= $4
	`, machineID, slotNumber, productID, quantity)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM machine_slots
			WHERE machine_id = $1 AND slot_number = $2 AND product_id = $3
		)
	`, machineID, slotNumber, productID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if !exists {
		return machine.ErrSlotNotFound
	}
	return machine.ErrInsufficientStock
}

// RestoreSlot increments capped at max_capacity and reports how much
// was actually restored.
func (s *PostgresMachineStore) RestoreSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, machine.ErrInvalidQuantity
	}

	var restored int
	err := s.db.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT quantity FROM machine_slots
			WHERE machine_id = $1 AND slot_number = $2 AND product_id = $3
			FOR UPDATE
		)
		UPDATE machine_slots ms
		SET quantity = LEAST(ms.quantity + $4, ms.max_capacity)
		FROM prev
		WHERE ms.machine_id = $1 AND ms.slot_number = $2 AND ms.product_id = $3
		RETURNING ms.quantity - prev.quantity
	`, machineID, slotNumber, productID, quantity).Scan(&restored)
	if err == sql.ErrNoRows {
		return 0, machine.ErrSlotNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("restore slot: %w", err)
	}
	return restored, nil
}
