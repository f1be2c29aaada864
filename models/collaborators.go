package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserProfile is the identity service's view of a user.
type UserProfile struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name,omitempty"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	PhoneNumber string    `json:"phone_number"`
	Email       string    `json:"email,omitempty"`
}

// DisplayName prefers the full name and falls back to first + last.
func (u *UserProfile) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Product is the catalog's view of a product and its variants.
type Product struct {
	ID              uuid.UUID        `json:"id"`
	SellerID        *uuid.UUID       `json:"seller_id"`
	Name            string           `json:"name"`
	SKU             string           `json:"sku,omitempty"`
	BaseSellPrice   int64            `json:"base_sell_price"`
	PrimaryImageURL string           `json:"primary_image_url,omitempty"`
	Variants        []ProductVariant `json:"variants"`
}

type ProductVariant struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	SKU   string    `json:"sku,omitempty"`
	Price *int64    `json:"price,omitempty"`
}

// Variant returns the variant with id, if the product has one.
func (p *Product) Variant(id uuid.UUID) (*ProductVariant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// PaymentRequest is sent to the payment service once per order.
type PaymentRequest struct {
	OrderID        uuid.UUID         `json:"order_id"`
	UserID         uuid.UUID         `json:"user_id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Metadata       map[string]string `json:"metadata"`
}

// PaymentInvoice is the payment service's answer. The same idempotency key
// always yields the same logical payment; IsExisting marks a replay.
type PaymentInvoice struct {
	ID         string     `json:"id"`
	OrderID    uuid.UUID  `json:"order_id"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency,omitempty"`
	Status     string     `json:"status"`
	InvoiceURL string     `json:"invoice_url,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsExisting bool       `json:"is_existing,omitempty"`
}

// ShipmentUpdatedEvent is published by the shipping service when a
// shipment's tracking status changes.
type ShipmentUpdatedEvent struct {
	EventType    string    `json:"event_type"`
	ShipmentID   string    `json:"shipment_id"`
	OrderID      string    `json:"order_id"`
	TrackingCode string    `json:"tracking_code"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// PaymentEvent is published by the payment service when a payment settles
// or gives up.
type PaymentEvent struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
