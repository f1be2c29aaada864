package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"order-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateOrder is returned when an insert violates the
	// (user_id, idempotency_key) or order_number uniqueness.
	ErrDuplicateOrder = errors.New("order already exists")
)

// OrderRepository defines the interface for order data access.
//
// A repository returned to a Transaction callback is bound to that
// transaction; calling Transaction on it again opens a savepoint.
type OrderRepository interface {
	Transaction(ctx context.Context, fn func(repo OrderRepository) error) error

	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDAndUserID(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	FindByCheckoutKey(ctx context.Context, userID uuid.UUID, checkoutKey string) ([]models.Order, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error)
	FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error)
	UpdateStatus(ctx context.Context, order *models.Order) error

	CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	FindStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)

	CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	FindOutboxEvents(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new instance of GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Transaction(ctx context.Context, fn func(repo OrderRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormOrderRepository{db: tx})
	})
}

// CreateOrder inserts the order and then its items. Call it inside
// Transaction so both statements commit together.
func (r *GormOrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		return translateError(err)
	}

	if len(order.OrderItems) == 0 {
		return nil
	}
	for i := range order.OrderItems {
		order.OrderItems[i].OrderID = order.ID
	}
	if err := r.db.WithContext(ctx).Create(&order.OrderItems).Error; err != nil {
		return translateError(err)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("OrderItems").
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}

// FindByIDForUpdate locks the order row until the surrounding transaction
// ends. Items are not loaded.
func (r *GormOrderRepository) FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}

// FindByIDAndUserID retrieves a specific order for a user
func (r *GormOrderRepository) FindByIDAndUserID(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("OrderItems").
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&order).Error; err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}

// FindByCheckoutKey returns the user's orders whose idempotency key is
// "{checkoutKey}:{index}", ordered by index.
func (r *GormOrderRepository) FindByCheckoutKey(ctx context.Context, userID uuid.UUID, checkoutKey string) ([]models.Order, error) {
	var candidates []models.Order
	if err := r.db.WithContext(ctx).
		Preload("OrderItems").
		Where("user_id = ? AND idempotency_key LIKE ?", userID, escapeLike(checkoutKey)+":%").
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	return SortByGroupIndex(candidates, checkoutKey), nil
}

// FindByUserID retrieves orders for a specific user with pagination
func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("OrderItems").
		Offset((page - 1) * limit).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// FindAll retrieves all orders with pagination
func (r *GormOrderRepository) FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("OrderItems").
		Offset((page - 1) * limit).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// UpdateStatus persists the status and milestone columns of order.
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, order *models.Order) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"status":       order.Status,
			"paid_at":      order.PaidAt,
			"cancelled_at": order.CancelledAt,
			"delivered_at": order.DeliveredAt,
			"completed_at": order.CompletedAt,
			"updated_at":   order.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *GormOrderRepository) FindStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

func (r *GormOrderRepository) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GormOrderRepository) FindOutboxEvents(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	if err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SortByGroupIndex drops orders whose key was not derived from checkoutKey
// and orders the rest by group index. LIKE matching alone would accept
// "{checkoutKey}:other:0".
func SortByGroupIndex(orders []models.Order, checkoutKey string) []models.Order {
	type indexed struct {
		index int
		order models.Order
	}

	matched := make([]indexed, 0, len(orders))
	for _, o := range orders {
		if idx, ok := models.GroupIndex(checkoutKey, o.IdempotencyKey); ok {
			matched = append(matched, indexed{index: idx, order: o})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].index < matched[j].index })

	out := make([]models.Order, len(matched))
	for i, m := range matched {
		out[i] = m.order
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func translateError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrOrderNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicateOrder, err)
	default:
		return err
	}
}

// isUniqueViolation covers both gorm's translated error and the raw
// Postgres message when TranslateError is off.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
}
