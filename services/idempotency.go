package services

import (
	"context"

	apperrors "order-service/common/errors"
	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
)

// IdempotencyResolver finds the orders an earlier submission of the same
// checkout already created.
type IdempotencyResolver struct {
	repo repository.OrderRepository
}

func NewIdempotencyResolver(repo repository.OrderRepository) *IdempotencyResolver {
	return &IdempotencyResolver{repo: repo}
}

// Resolve returns the user's orders for checkoutKey ordered by group index.
// found is false when the checkout has not been processed yet.
func (r *IdempotencyResolver) Resolve(ctx context.Context, userID uuid.UUID, checkoutKey string) (orders []models.Order, found bool, err error) {
	orders, err = r.repo.FindByCheckoutKey(ctx, userID, checkoutKey)
	if err != nil {
		return nil, false, apperrors.Internal("failed to look up existing checkout", err)
	}
	return orders, len(orders) > 0, nil
}
