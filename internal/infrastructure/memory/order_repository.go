package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/levelupgamer/backend/internal/domain/order"
)

type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	byToken map[string]string
	seq     []string // insertion order, oldest first
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]*domain.Order),
		byToken: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.byToken[order.ExternalToken]; exists {
		return domain.ErrConflict
	}

	r.orders[order.ID] = order.Clone()
	r.byToken[order.ExternalToken] = order.ID
	r.seq = append(r.seq, order.ID)
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound
	}
	// The transition out of PENDING is claimed here, under the same lock
	// reads take; a second writer racing for the same order loses.
	if prev.Status != domain.StatusPending {
		return domain.ErrInvalidStateTransition
	}

	if prev.ExternalToken != order.ExternalToken {
		if holder, taken := r.byToken[order.ExternalToken]; taken && holder != order.ID {
			return domain.ErrConflict
		}
		delete(r.byToken, prev.ExternalToken)
		r.byToken[order.ExternalToken] = order.ID
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) GetByToken(ctx context.Context, token string) (*domain.Order, error) {
	_ = ctx
	if token == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Order
	for i := len(r.seq) - 1; i >= 0; i-- {
		if order := r.orders[r.seq[i]]; order != nil && order.OwnerID == ownerID {
			out = append(out, order.Clone())
		}
	}
	return out, nil
}

func (r *OrderRepository) List(ctx context.Context, page, size int) ([]*domain.Order, int64, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	total := int64(len(r.seq))
	start := page * size
	if start >= len(r.seq) {
		return nil, total, nil
	}

	out := make([]*domain.Order, 0, size)
	for i := len(r.seq) - 1 - start; i >= 0 && len(out) < size; i-- {
		if order := r.orders[r.seq[i]]; order != nil {
			out = append(out, order.Clone())
		}
	}
	return out, total, nil
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Order
	for _, id := range r.seq {
		order := r.orders[id]
		if order != nil && order.Status == domain.StatusPending && order.CreatedAt.Before(cutoff) {
			out = append(out, order.Clone())
		}
	}
	return out, nil
}
