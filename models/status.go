package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	StatusPending           OrderStatus = "pending"
	StatusAwaitingPayment   OrderStatus = "awaiting_payment"
	StatusPaid              OrderStatus = "paid"
	StatusConfirmed         OrderStatus = "confirmed"
	StatusProcessing        OrderStatus = "processing"
	StatusReadyToShip       OrderStatus = "ready_to_ship"
	StatusShipped           OrderStatus = "shipped"
	StatusInTransit         OrderStatus = "in_transit"
	StatusOutForDelivery    OrderStatus = "out_for_delivery"
	StatusDelivered         OrderStatus = "delivered"
	StatusCompleted         OrderStatus = "completed"
	StatusCancelled         OrderStatus = "cancelled"
	StatusRefunded          OrderStatus = "refunded"
	StatusPartiallyRefunded OrderStatus = "partially_refunded"
)

// ActorType identifies who requested a status change.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

// OrderStatusHistory is an append-only audit row, one per accepted transition.
type OrderStatusHistory struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"order_id"`
	FromStatus OrderStatus `gorm:"type:varchar(32);not null" json:"from_status"`
	ToStatus   OrderStatus `gorm:"type:varchar(32);not null" json:"to_status"`
	Reason     string      `gorm:"type:varchar(255)" json:"reason,omitempty"`
	Notes      string      `gorm:"type:text" json:"notes,omitempty"`
	ActorID    string      `gorm:"type:varchar(255)" json:"actor_id,omitempty"`
	ActorType  ActorType   `gorm:"type:varchar(16);not null" json:"actor_type"`
	Metadata   string      `gorm:"type:jsonb;not null" json:"metadata"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}

func (h *OrderStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.Metadata == "" {
		h.Metadata = "{}"
	}
	return nil
}
