package catalog

import "context"

type Repository interface {
	Get(ctx context.Context, productID string) (*Product, error)
	Save(ctx context.Context, product *Product) error

	// AdjustStock applies the delta as a single conditional update: the
	// check and the write happen atomically, so concurrent consumers of
	// the same product cannot drive stock below zero. Returns the new
	// stock level, ErrInsufficientStock when the delta would underflow.
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)
}
