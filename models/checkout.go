package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutRequest drives one checkout. It is never persisted as is.
type CheckoutRequest struct {
	UserID           uuid.UUID            `json:"user_id" validate:"required"`
	IdempotencyKey   string               `json:"idempotency_key" validate:"required,max=200"`
	Items            []CheckoutItem       `json:"items" validate:"required,min=1,dive"`
	ShippingAddress  ShippingAddressInput `json:"shipping_address"`
	DiscountAmount   int64                `json:"discount_amount" validate:"gte=0"`
	ShippingCost     int64                `json:"shipping_cost" validate:"gte=0"`
	TaxAmount        int64                `json:"tax_amount" validate:"gte=0"`
	PaymentMethod    string               `json:"payment_method,omitempty" validate:"max=64"`
	PaymentExpiresAt *time.Time           `json:"payment_expires_at,omitempty"`
	OrderSource      string               `json:"order_source,omitempty" validate:"max=32"`
}

type CheckoutItem struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity" validate:"required,min=1,max=1000"`
}

type ShippingAddressInput struct {
	RecipientName string   `json:"recipient_name" validate:"required,max=255"`
	Phone         string   `json:"phone" validate:"required,max=32"`
	Street        string   `json:"street" validate:"required"`
	District      string   `json:"district" validate:"max=128"`
	City          string   `json:"city" validate:"required,max=128"`
	Province      string   `json:"province" validate:"required,max=128"`
	PostalCode    string   `json:"postal_code" validate:"required,max=16"`
	Latitude      *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude     *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// Snapshot copies the address onto an order.
func (a ShippingAddressInput) Snapshot() ShippingAddress {
	return ShippingAddress{
		RecipientName: a.RecipientName,
		Phone:         a.Phone,
		Street:        a.Street,
		District:      a.District,
		City:          a.City,
		Province:      a.Province,
		PostalCode:    a.PostalCode,
		Latitude:      a.Latitude,
		Longitude:     a.Longitude,
	}
}

// CheckoutResult is returned for fresh and replayed checkouts alike.
// FailedPayments lists orders that exist but still need payment.
type CheckoutResult struct {
	Message        string           `json:"message"`
	IsExisting     bool             `json:"is_existing"`
	OrdersCreated  int              `json:"orders_created"`
	Orders         []Order          `json:"orders"`
	Payments       []PaymentInvoice `json:"payments"`
	FailedPayments []FailedPayment  `json:"failed_payments,omitempty"`
}

type FailedPayment struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Error       string    `json:"error"`
}

// CheckoutMessage is the queue form of a checkout, published by the cart
// service.
type CheckoutMessage struct {
	Event string `json:"event"`
	CheckoutRequest
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutCompletedNotification is published once a checkout returns.
type CheckoutCompletedNotification struct {
	Event          string      `json:"event"`
	UserID         uuid.UUID   `json:"user_id"`
	CheckoutKey    string      `json:"checkout_key"`
	IsExisting     bool        `json:"is_existing"`
	OrderIDs       []uuid.UUID `json:"order_ids"`
	FailedPayments int         `json:"failed_payments"`
	Timestamp      time.Time   `json:"timestamp"`
}
