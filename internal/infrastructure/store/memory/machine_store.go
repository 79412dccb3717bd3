// Package memory holds in-memory store implementations. They back the
// package tests and double as a storage backend for local runs; the
// mutex-guarded conditional updates give the same reserve/restore
// semantics as the SQL stores.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/example/vending-commerce/internal/domain/machine"
)

type MachineStore struct {
	mu       sync.Mutex
	machines map[string]*machine.VendingMachine
}

func NewMachineStore() *MachineStore {
	return &MachineStore{machines: make(map[string]*machine.VendingMachine)}
}

func cloneMachine(m *machine.VendingMachine) *machine.VendingMachine {
	cp := *m
	cp.Slots = make([]machine.ProductSlot, len(m.Slots))
	copy(cp.Slots, m.Slots)
	return &cp
}

func (s *MachineStore) Get(ctx context.Context, machineID string) (*machine.VendingMachine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[machineID]
	if !ok {
		return nil, machine.ErrMachineNotFound
	}
	return cloneMachine(m), nil
}

func (s *MachineStore) Save(ctx context.Context, m *machine.VendingMachine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneMachine(m)
	cp.UpdatedAt = time.Now()
	s.machines[m.ID] = cp
	return nil
}

// ReserveSlot decrements under the store mutex, so the quantity check
// and the write are one atomic step.
func (s *MachineStore) ReserveSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) error {
	if quantity <= 0 {
		return machine.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[machineID]
	if !ok {
		return machine.ErrMachineNotFound
	}
	slot := m.SlotFor(slotNumber, productID)
	if slot == nil {
		return machine.ErrSlotNotFound
	}
	if slot.Quantity < quantity {
		return machine.ErrInsufficientStock
	}
	slot.Quantity -= quantity
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MachineStore) RestoreSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, machine.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[machineID]
	if !ok {
		return 0, machine.ErrMachineNotFound
	}
	slot := m.SlotFor(slotNumber, productID)
	if slot == nil {
		return 0, machine.ErrSlotNotFound
	}

	restored := quantity
	if slot.Quantity+quantity > slot.MaxCapacity {
		restored = slot.MaxCapacity - slot.Quantity
	}
	slot.Quantity += restored
	m.UpdatedAt = time.Now()
	return restored, nil
}
