package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order is one seller's (or the house brand's) slice of a checkout. Status
// changes go through the status machine only.
type Order struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_number"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_orders_user_idempotency,priority:1" json:"user_id"`
	SellerID       *uuid.UUID `gorm:"type:uuid;index" json:"seller_id"`
	OrderSource    string     `gorm:"type:varchar(32);not null" json:"order_source"`
	IdempotencyKey string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_user_idempotency,priority:2" json:"-"`

	Subtotal       int64  `gorm:"not null" json:"subtotal"`
	DiscountAmount int64  `gorm:"not null" json:"discount_amount"`
	ShippingCost   int64  `gorm:"not null" json:"shipping_cost"`
	TaxAmount      int64  `gorm:"not null" json:"tax_amount"`
	TotalAmount    int64  `gorm:"not null" json:"total_amount"`
	Currency       string `gorm:"type:varchar(3);not null" json:"currency"`

	ShippingAddress ShippingAddress  `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	Customer        CustomerSnapshot `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`

	Status      OrderStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	PaidAt      *time.Time  `json:"paid_at,omitempty"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updated_at"`

	OrderItems []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT" json:"items"`
}

// ShippingAddress is copied onto the order at checkout time.
type ShippingAddress struct {
	RecipientName string   `gorm:"type:varchar(255)" json:"recipient_name"`
	Phone         string   `gorm:"type:varchar(32)" json:"phone"`
	Street        string   `gorm:"type:text" json:"street"`
	District      string   `gorm:"type:varchar(128)" json:"district"`
	City          string   `gorm:"type:varchar(128)" json:"city"`
	Province      string   `gorm:"type:varchar(128)" json:"province"`
	PostalCode    string   `gorm:"type:varchar(16)" json:"postal_code"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

// CustomerSnapshot is the buyer identity as known when the order was placed.
type CustomerSnapshot struct {
	Name  string `gorm:"type:varchar(255)" json:"name"`
	Phone string `gorm:"type:varchar(32)" json:"phone"`
	Email string `gorm:"type:varchar(255)" json:"email,omitempty"`
}

// OrderItem is a line of an order, with the product as it looked at checkout.
type OrderItem struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID       uuid.UUID  `gorm:"type:uuid;not null" json:"product_id"`
	VariantID       *uuid.UUID `gorm:"type:uuid" json:"variant_id,omitempty"`
	SellerID        *uuid.UUID `gorm:"type:uuid" json:"seller_id"`
	Quantity        int        `gorm:"not null" json:"quantity"`
	UnitPrice       int64      `gorm:"not null" json:"unit_price"`
	Subtotal        int64      `gorm:"not null" json:"subtotal"`
	Total           int64      `gorm:"not null" json:"total"`
	ProductName     string     `gorm:"type:varchar(255);not null" json:"product_name"`
	VariantName     string     `gorm:"type:varchar(255)" json:"variant_name,omitempty"`
	ProductSKU      string     `gorm:"type:varchar(128)" json:"product_sku,omitempty"`
	ProductImageURL string     `gorm:"type:text" json:"product_image_url,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// ExpectedTotal is subtotal + shipping + tax - discount.
func (o *Order) ExpectedTotal() int64 {
	return o.Subtotal + o.ShippingCost + o.TaxAmount - o.DiscountAmount
}

// ValidateTotals checks the money invariant.
func (o *Order) ValidateTotals() error {
	if o.TotalAmount != o.ExpectedTotal() {
		return fmt.Errorf("order %s: total %d does not equal subtotal %d + shipping %d + tax %d - discount %d",
			o.OrderNumber, o.TotalAmount, o.Subtotal, o.ShippingCost, o.TaxAmount, o.DiscountAmount)
	}
	return nil
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return o.ValidateTotals()
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
