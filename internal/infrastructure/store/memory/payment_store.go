package memory

import (
	"context"
	"sync"
	"time"

	"github.com/example/vending-commerce/internal/domain/payment"
	"github.com/example/vending-commerce/internal/infrastructure/store"
)

type PaymentStore struct {
	mu       sync.Mutex
	payments map[string]*payment.Payment
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[string]*payment.Payment)}
}

func clonePayment(p *payment.Payment) *payment.Payment {
	cp := *p
	if len(p.GatewayResponse.Raw) > 0 {
		cp.GatewayResponse.Raw = append([]byte(nil), p.GatewayResponse.Raw...)
	}
	return &cp
}

func (s *PaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (s *PaymentStore) Get(ctx context.Context, paymentID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) List(ctx context.Context, filter store.PaymentFilter) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*payment.Payment
	for _, p := range s.payments {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.MachineID != "" && p.Metadata.MachineID != filter.MachineID {
			continue
		}
		result = append(result, clonePayment(p))
	}
	return result, nil
}

func (s *PaymentStore) SuccessfulPaymentForOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.OrderID == orderID && p.Type == payment.TypePayment && p.Status == payment.StatusSuccess {
			return clonePayment(p), nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *PaymentStore) ListExpired(ctx context.Context, now time.Time) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*payment.Payment
	for _, p := range s.payments {
		if p.Type != payment.TypePayment || p.Status.Final() {
			continue
		}
		if p.ExpiresAt.Before(now) {
			result = append(result, clonePayment(p))
		}
	}
	return result, nil
}

func (s *PaymentStore) UpdateLocked(ctx context.Context, paymentID string, apply func(*payment.Payment) error) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	working := clonePayment(p)
	if err := apply(working); err != nil {
		return nil, err
	}
	s.payments[paymentID] = clonePayment(working)
	return working, nil
}
