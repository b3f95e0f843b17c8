package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/levelupgamer/backend/internal/domain/catalog"
)

type productRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	Price     int64
	Stock     int
	UpdatedAt time.Time
}

func (productRecord) TableName() string { return "products" }

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*catalog.Product, error) {
	var rec productRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("mysql: get product: %w", result.Error)
	}
	return fromProductRecord(&rec), nil
}

func (r *ProductRepository) Save(ctx context.Context, p *catalog.Product) error {
	rec := productRecord{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		UpdatedAt: p.UpdatedAt,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "price", "stock", "updated_at"}),
	}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("mysql: save product: %w", result.Error)
	}
	return nil
}

// AdjustStock applies delta with a single conditional UPDATE so concurrent
// adjustments never drive stock below zero.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	if delta == 0 {
		return 0, catalog.ErrInvalidQuantity
	}

	result := r.db.WithContext(ctx).Model(&productRecord{}).
		Where("id = ? AND stock + ? >= 0", productID, delta).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("mysql: adjust stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish a missing product from an underflow.
		if _, err := r.Get(ctx, productID); err != nil {
			return 0, err
		}
		return 0, catalog.ErrInsufficientStock
	}

	p, err := r.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

func fromProductRecord(rec *productRecord) *catalog.Product {
	return &catalog.Product{
		ID:        rec.ID,
		Name:      rec.Name,
		Price:     rec.Price,
		Stock:     rec.Stock,
		UpdatedAt: rec.UpdatedAt,
	}
}
