package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/levelupgamer/backend/internal/domain/order"
)

type orderRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	OwnerID       string `gorm:"size:64;index"`
	Status        string `gorm:"size:16;index"`
	Subtotal      int64
	Tax           int64
	Shipping      int64
	Total         int64
	ExternalToken string `gorm:"size:128;uniqueIndex"`
	FailureReason string `gorm:"size:255"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (orderRecord) TableName() string { return "orders" }

type orderLineRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OrderID     string `gorm:"size:64;index"`
	ProductID   string `gorm:"size:64"`
	ProductName string `gorm:"size:255"`
	Quantity    int
	UnitPrice   int64
}

func (orderLineRecord) TableName() string { return "order_lines" }

// OrderRepository persists orders in MySQL. Lines are written once at insert
// time and never change afterwards, so updates only touch the order row.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	rec := toOrderRecord(o)
	lines := toLineRecords(o)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return order.ErrConflict
		}
		return fmt.Errorf("mysql: insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	// Conditional on the stored status so concurrent writers (a retried
	// callback, the expiry sweep) cannot both claim the transition.
	result := r.db.WithContext(ctx).Model(&orderRecord{}).
		Where("id = ? AND status = ?", o.ID, string(order.StatusPending)).
		Updates(map[string]any{
			"status":         string(o.Status),
			"external_token": o.ExternalToken,
			"failure_reason": o.FailureReason,
			"updated_at":     o.UpdatedAt,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return order.ErrConflict
		}
		return fmt.Errorf("mysql: update order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var rec orderRecord
		err := r.db.WithContext(ctx).Select("id").First(&rec, "id = ?", o.ID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return order.ErrNotFound
			}
			return fmt.Errorf("mysql: update order: %w", err)
		}
		return order.ErrInvalidStateTransition
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var rec orderRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("mysql: get order: %w", result.Error)
	}
	return r.hydrate(ctx, &rec)
}

func (r *OrderRepository) GetByToken(ctx context.Context, token string) (*order.Order, error) {
	var rec orderRecord
	result := r.db.WithContext(ctx).First(&rec, "external_token = ?", token)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("mysql: get order by token: %w", result.Error)
	}
	return r.hydrate(ctx, &rec)
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]*order.Order, error) {
	var recs []orderRecord
	result := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("mysql: list orders by owner: %w", result.Error)
	}
	return r.hydrateAll(ctx, recs)
}

func (r *OrderRepository) List(ctx context.Context, page, size int) ([]*order.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&orderRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("mysql: count orders: %w", err)
	}

	var recs []orderRecord
	result := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(page * size).
		Limit(size).
		Find(&recs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("mysql: list orders: %w", result.Error)
	}

	orders, err := r.hydrateAll(ctx, recs)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error) {
	var recs []orderRecord
	result := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(order.StatusPending), cutoff).
		Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("mysql: list pending orders: %w", result.Error)
	}
	return r.hydrateAll(ctx, recs)
}

func (r *OrderRepository) hydrate(ctx context.Context, rec *orderRecord) (*order.Order, error) {
	var lines []orderLineRecord
	result := r.db.WithContext(ctx).
		Where("order_id = ?", rec.ID).
		Order("id ASC").
		Find(&lines)
	if result.Error != nil {
		return nil, fmt.Errorf("mysql: load order lines: %w", result.Error)
	}
	return fromOrderRecord(rec, lines), nil
}

func (r *OrderRepository) hydrateAll(ctx context.Context, recs []orderRecord) ([]*order.Order, error) {
	orders := make([]*order.Order, 0, len(recs))
	for i := range recs {
		o, err := r.hydrate(ctx, &recs[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func toOrderRecord(o *order.Order) orderRecord {
	return orderRecord{
		ID:            o.ID,
		OwnerID:       o.OwnerID,
		Status:        string(o.Status),
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		Shipping:      o.Shipping,
		Total:         o.Total,
		ExternalToken: o.ExternalToken,
		FailureReason: o.FailureReason,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func toLineRecords(o *order.Order) []orderLineRecord {
	lines := make([]orderLineRecord, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineRecord{
			OrderID:     o.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return lines
}

func fromOrderRecord(rec *orderRecord, lineRecs []orderLineRecord) *order.Order {
	lines := make([]order.Line, 0, len(lineRecs))
	for _, l := range lineRecs {
		lines = append(lines, order.Line{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return &order.Order{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Status:        order.Status(rec.Status),
		Lines:         lines,
		Subtotal:      rec.Subtotal,
		Tax:           rec.Tax,
		Shipping:      rec.Shipping,
		Total:         rec.Total,
		ExternalToken: rec.ExternalToken,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}
