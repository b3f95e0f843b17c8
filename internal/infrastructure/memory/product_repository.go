package memory

import (
	"context"
	"sync"

	domain "github.com/levelupgamer/backend/internal/domain/catalog"
)

type ProductRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		items: make(map[string]*domain.Product),
	}
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProduct(product), nil
}

func (r *ProductRepository) Save(ctx context.Context, product *domain.Product) error {
	_ = ctx
	if product == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[product.ID] = cloneProduct(product)
	return nil
}

// AdjustStock checks and applies the delta under one lock, so two orders
// racing for the last unit cannot both win.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if err := product.Adjust(delta); err != nil {
		return 0, err
	}
	return product.Stock, nil
}

func cloneProduct(product *domain.Product) *domain.Product {
	if product == nil {
		return nil
	}
	clone := *product
	return &clone
}
