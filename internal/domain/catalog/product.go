package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("catalog: product not found")
	ErrInvalidQuantity   = errors.New("catalog: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
)

type Product struct {
	ID        string
	Name      string
	Price     int64
	Stock     int
	UpdatedAt time.Time
}

func NewProduct(id, name string, price int64, stock int) (*Product, error) {
	if price < 0 || stock < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Product{
		ID:        id,
		Name:      name,
		Price:     price,
		Stock:     stock,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Adjust applies a stock delta: negative consumes, positive restocks.
// The resulting stock must stay at or above zero.
func (p *Product) Adjust(delta int) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}
	if p.Stock+delta < 0 {
		return ErrInsufficientStock
	}
	p.Stock += delta
	p.touch()
	return nil
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// Availability is the read-only view the order flow checks before
// committing anything.
type Availability struct {
	ProductID string
	Name      string
	UnitPrice int64
	Stock     int
	Available bool
}
