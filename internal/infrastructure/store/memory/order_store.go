package memory

import (
	"context"
	"sync"

	"github.com/example/vending-commerce/internal/domain/order"
	"github.com/example/vending-commerce/internal/infrastructure/store"
)

type OrderStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*order.Order)}
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = make([]order.Item, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

func (s *OrderStore) Create(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) List(ctx context.Context, filter store.OrderFilter) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*order.Order
	for _, o := range s.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.MachineID != "" && o.Delivery.MachineID != filter.MachineID {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	return result, nil
}

// UpdateLocked runs apply while holding the store mutex, so concurrent
// transitions on the same order serialize and the loser observes the
// winner's state.
func (s *OrderStore) UpdateLocked(ctx context.Context, orderID string, apply func(*order.Order) error) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	working := cloneOrder(o)
	if err := apply(working); err != nil {
		return nil, err
	}
	s.orders[orderID] = cloneOrder(working)
	return working, nil
}
