package services

import (
	"context"
	"fmt"
	"time"

	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SellerGroup is the part of a cart sold by one seller, or by the house
// brand when SellerID is nil, with its allocated charges.
type SellerGroup struct {
	SellerID       *uuid.UUID
	Items          []models.OrderItem
	Subtotal       int64
	DiscountAmount int64
	ShippingCost   int64
	TaxAmount      int64
}

// Total is subtotal + shipping + tax - discount.
func (g SellerGroup) Total() int64 {
	return g.Subtotal + g.ShippingCost + g.TaxAmount - g.DiscountAmount
}

type CreateOrdersInput struct {
	UserID          uuid.UUID
	CheckoutKey     string
	OrderSource     string
	Groups          []SellerGroup
	ShippingAddress models.ShippingAddress
	Customer        models.CustomerSnapshot
}

// OrderCreator persists all orders of a checkout in one transaction.
type OrderCreator struct {
	repo        repository.OrderRepository
	outbox      *OutboxWriter
	currency    string
	logger      *zap.Logger
	now         func() time.Time
	orderNumber func(time.Time) string
}

func NewOrderCreator(repo repository.OrderRepository, outbox *OutboxWriter, currency string, logger *zap.Logger) *OrderCreator {
	return &OrderCreator{
		repo:        repo,
		outbox:      outbox,
		currency:    currency,
		logger:      logger,
		now:         time.Now,
		orderNumber: baseOrderNumber,
	}
}

func baseOrderNumber(now time.Time) string {
	return "ORD-" + now.Format("20060102-150405") + "-" + uuid.New().String()[:8]
}

// CreateOrders writes every order, its items and its order.created outbox
// event, or nothing at all. A uniqueness violation surfaces as
// repository.ErrDuplicateOrder.
func (c *OrderCreator) CreateOrders(ctx context.Context, in CreateOrdersInput) ([]models.Order, error) {
	now := c.now().UTC()
	base := c.orderNumber(now)

	orders := make([]models.Order, len(in.Groups))
	for i, g := range in.Groups {
		number := base
		if len(in.Groups) > 1 {
			number = fmt.Sprintf("%s-%d", base, i+1)
		}

		items := make([]models.OrderItem, len(g.Items))
		copy(items, g.Items)

		orders[i] = models.Order{
			ID:              uuid.New(),
			OrderNumber:     number,
			UserID:          in.UserID,
			SellerID:        g.SellerID,
			OrderSource:     in.OrderSource,
			IdempotencyKey:  models.OrderIdempotencyKey(in.CheckoutKey, i),
			Subtotal:        g.Subtotal,
			DiscountAmount:  g.DiscountAmount,
			ShippingCost:    g.ShippingCost,
			TaxAmount:       g.TaxAmount,
			TotalAmount:     g.Total(),
			Currency:        c.currency,
			ShippingAddress: in.ShippingAddress,
			Customer:        in.Customer,
			Status:          models.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
			OrderItems:      items,
		}
	}

	err := c.repo.Transaction(ctx, func(tx repository.OrderRepository) error {
		for i := range orders {
			order := &orders[i]
			if err := tx.CreateOrder(ctx, order); err != nil {
				return err
			}
			if err := c.outbox.Record(ctx, tx, order.ID, models.EventOrderCreated, models.OrderCreatedPayload{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      order.UserID,
				SellerID:    order.SellerID,
				OrderSource: order.OrderSource,
				Status:      order.Status,
				Subtotal:    order.Subtotal,
				TotalAmount: order.TotalAmount,
				Currency:    order.Currency,
				ItemCount:   len(order.OrderItems),
				CheckoutKey: in.CheckoutKey,
				CreatedAt:   order.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("orders created",
		zap.String("user_id", in.UserID.String()),
		zap.String("order_number", base),
		zap.Int("orders", len(orders)),
	)
	return orders, nil
}
