package order

import (
	"errors"
	"time"

	"github.com/levelupgamer/backend/internal/domain/pricing"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrEmptyItems             = errors.New("order: at least one line item is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidUnitPrice       = errors.New("order: unit price must be zero or greater")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrTokenRequired          = errors.New("order: external token is required")
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Line is one product entry within an order. Name and unit price are
// snapshots taken at purchase time and stay fixed even when the catalog
// changes later.
type Line struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
}

// Total returns quantity times the captured unit price.
func (l Line) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order is a purchase attempt. Lines and amounts are set once at creation;
// the only mutations allowed afterwards are the single transition out of
// PENDING and one external-token replacement while still PENDING.
type Order struct {
	ID            string
	OwnerID       string
	Lines         []Line
	Subtotal      int64
	Tax           int64
	Shipping      int64
	Total         int64
	Status        Status
	ExternalToken string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, ownerID, externalToken string, lines []Line, quote pricing.Quote) (*Order, error) {
	if externalToken == "" {
		return nil, ErrTokenRequired
	}
	if len(lines) == 0 {
		return nil, ErrEmptyItems
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if l.UnitPrice < 0 {
			return nil, ErrInvalidUnitPrice
		}
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		OwnerID:       ownerID,
		Lines:         append([]Line(nil), lines...),
		Subtotal:      quote.Subtotal,
		Tax:           quote.Tax,
		Shipping:      quote.Shipping,
		Total:         quote.Total,
		Status:        StatusPending,
		ExternalToken: externalToken,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Approve moves the order from PENDING to the terminal APPROVED state.
func (o *Order) Approve() error {
	if o.Status != StatusPending {
		return ErrInvalidStateTransition
	}
	o.Status = StatusApproved
	o.FailureReason = ""
	o.touch()
	return nil
}

// Reject moves the order from PENDING to the terminal REJECTED state.
func (o *Order) Reject(reason string) error {
	if o.Status != StatusPending {
		return ErrInvalidStateTransition
	}
	o.Status = StatusRejected
	o.FailureReason = reason
	o.touch()
	return nil
}

// Terminal reports whether the order has left PENDING.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}

// ReplaceExternalToken swaps the locally generated token for the one the
// gateway assigned. Allowed only while the order is still PENDING.
func (o *Order) ReplaceExternalToken(token string) error {
	if token == "" {
		return ErrTokenRequired
	}
	if o.Status != StatusPending {
		return ErrInvalidStateTransition
	}
	o.ExternalToken = token
	o.touch()
	return nil
}

// Clone returns a deep copy so repositories can hand out isolated values.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
