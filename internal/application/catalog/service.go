package catalog

import (
	"context"
	"fmt"

	domcatalog "github.com/levelupgamer/backend/internal/domain/catalog"
	"github.com/levelupgamer/backend/internal/pkg/logging"
	"go.uber.org/zap"
)

// Service is the catalog gateway the order flow consumes: a read-only
// availability check and an atomic stock adjustment. It owns no pricing or
// ordering logic of its own.
type Service struct {
	repo domcatalog.Repository
}

func NewService(repo domcatalog.Repository) *Service {
	return &Service{repo: repo}
}

// CheckAvailability reads current stock, price and name for a product
// without reserving anything. The caller must assume the answer can be
// stale by the time stock is actually adjusted.
func (s *Service) CheckAvailability(ctx context.Context, productID string, quantity int) (*domcatalog.Availability, error) {
	if quantity <= 0 {
		return nil, domcatalog.ErrInvalidQuantity
	}

	product, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", productID, err)
	}

	return &domcatalog.Availability{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Stock:     product.Stock,
		Available: product.Stock >= quantity,
	}, nil
}

// AdjustStock applies a stock delta atomically; negative deltas consume,
// positive deltas restock. Failures are normal business outcomes for the
// caller, never assumed impossible.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	remaining, err := s.repo.AdjustStock(ctx, productID, delta)
	if err != nil {
		return 0, err
	}

	logging.FromContext(ctx).Debug("stock_adjusted",
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("remaining", remaining),
	)
	return remaining, nil
}
