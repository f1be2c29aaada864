package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AggregateOrder = "order"

	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OutboxEvent is written in the same transaction as the change it records
// and is never updated afterwards.
type OutboxEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AggregateType string    `gorm:"type:varchar(64);not null;index:idx_outbox_aggregate,priority:1" json:"aggregate_type"`
	AggregateID   uuid.UUID `gorm:"type:uuid;not null;index:idx_outbox_aggregate,priority:2" json:"aggregate_id"`
	EventType     string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload       string    `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// OrderCreatedPayload is the body of an order.created event.
type OrderCreatedPayload struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      uuid.UUID   `json:"user_id"`
	SellerID    *uuid.UUID  `json:"seller_id"`
	OrderSource string      `json:"order_source"`
	Status      OrderStatus `json:"status"`
	Subtotal    int64       `json:"subtotal"`
	TotalAmount int64       `json:"total_amount"`
	Currency    string      `json:"currency"`
	ItemCount   int         `json:"item_count"`
	CheckoutKey string      `json:"checkout_key"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderStatusChangedPayload is the body of an order.status_changed event.
type OrderStatusChangedPayload struct {
	OrderID     uuid.UUID      `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	UserID      uuid.UUID      `json:"user_id"`
	FromStatus  OrderStatus    `json:"from_status"`
	ToStatus    OrderStatus    `json:"to_status"`
	Reason      string         `json:"reason,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	ActorType   ActorType      `json:"actor_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ChangedAt   time.Time      `json:"changed_at"`
}
