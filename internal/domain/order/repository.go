package order

import (
	"context"
	"time"
)

type Repository interface {
	// Insert persists a freshly created order; ErrConflict when the id
	// or external token is already taken.
	Insert(ctx context.Context, order *Order) error

	// Update persists the transition out of PENDING (and any token
	// replacement) as a compare-and-set on the stored status: ErrNotFound
	// for an unknown id, ErrInvalidStateTransition when the stored order
	// already left PENDING, ErrConflict when a replacement token is
	// already held by another order.
	Update(ctx context.Context, order *Order) error

	Get(ctx context.Context, id string) (*Order, error)

	// GetByToken resolves an order through the payment gateway token.
	GetByToken(ctx context.Context, token string) (*Order, error)

	// ListByOwner returns the owner's orders, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*Order, error)

	// List returns one page of all orders, newest first, plus the total count.
	List(ctx context.Context, page, size int) ([]*Order, int64, error)

	// ListPendingBefore returns PENDING orders created before the cutoff,
	// used by the abandoned-checkout sweep.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Order, error)
}
