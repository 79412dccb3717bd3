package memory

import (
	"context"
	"sync"

	"github.com/example/vending-commerce/internal/domain/cart"
	"github.com/example/vending-commerce/internal/domain/product"
)

type CartStore struct {
	mu    sync.RWMutex
	carts map[string]*cart.Cart // userID -> cart
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]*cart.Cart)}
}

func cloneCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = make([]cart.Item, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}

func (s *CartStore) GetByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[userID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (s *CartStore) Save(ctx context.Context, c *cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.carts[c.UserID] = cloneCart(c)
	return nil
}

type ProductStore struct {
	mu       sync.RWMutex
	products map[string]*product.Product
}

func NewProductStore() *ProductStore {
	return &ProductStore{products: make(map[string]*product.Product)}
}

func (s *ProductStore) Get(ctx context.Context, productID string) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ProductStore) Save(ctx context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.products[p.ID] = &cp
	return nil
}
