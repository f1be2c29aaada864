package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	apperrors "order-service/common/errors"
	"order-service/models"
	"order-service/repository"
	aws_pkg "order-service/pkg/aws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:           {models.StatusAwaitingPayment, models.StatusPaid, models.StatusCancelled},
	models.StatusAwaitingPayment:   {models.StatusPaid, models.StatusCancelled},
	models.StatusPaid:              {models.StatusConfirmed, models.StatusProcessing, models.StatusCancelled, models.StatusRefunded, models.StatusPartiallyRefunded},
	models.StatusConfirmed:         {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing:        {models.StatusReadyToShip, models.StatusCancelled},
	models.StatusReadyToShip:       {models.StatusShipped, models.StatusCancelled},
	models.StatusShipped:           {models.StatusInTransit, models.StatusDelivered},
	models.StatusInTransit:         {models.StatusOutForDelivery, models.StatusDelivered},
	models.StatusOutForDelivery:    {models.StatusDelivered},
	models.StatusDelivered:         {models.StatusCompleted, models.StatusRefunded, models.StatusPartiallyRefunded},
	models.StatusCompleted:         {models.StatusRefunded, models.StatusPartiallyRefunded},
	models.StatusCancelled:         {models.StatusRefunded, models.StatusPartiallyRefunded},
	models.StatusRefunded:          {},
	models.StatusPartiallyRefunded: {},
}

// IsKnownStatus reports whether s is one of the order statuses.
func IsKnownStatus(s models.OrderStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

func CanTransition(from, to models.OrderStatus) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s models.OrderStatus) []models.OrderStatus {
	return slices.Clone(allowedTransitions[s])
}

// InvalidTransitionError is returned when the requested status is not
// reachable from the order's current status.
type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// TransitionRequest asks for one status change of one order.
type TransitionRequest struct {
	OrderID   uuid.UUID          `json:"-"`
	ToStatus  models.OrderStatus `json:"status"`
	Reason    string             `json:"reason"`
	Notes     string             `json:"notes"`
	ActorID   string             `json:"-"`
	ActorType models.ActorType   `json:"-"`
	Metadata  map[string]any     `json:"metadata"`
}

// StatusMachine applies status transitions. Every accepted transition
// updates the order, appends a history row and writes an
// order.status_changed outbox event in one transaction.
type StatusMachine struct {
	repo    repository.OrderRepository
	outbox  *OutboxWriter
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewStatusMachine(repo repository.OrderRepository, metrics MetricsRecorder, logger *zap.Logger) *StatusMachine {
	return &StatusMachine{
		repo:    repo,
		outbox:  NewOutboxWriter(true, logger),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Transition locks the order, validates and applies req. Invalid
// transitions leave the order, its history and the outbox untouched.
func (m *StatusMachine) Transition(ctx context.Context, req TransitionRequest) (*models.Order, error) {
	if !IsKnownStatus(req.ToStatus) {
		return nil, apperrors.Validation(apperrors.ReasonInvalidRequest, fmt.Sprintf("unknown order status %q", req.ToStatus))
	}
	if req.ActorType == "" {
		req.ActorType = models.ActorSystem
	}

	var (
		updated *models.Order
		from    models.OrderStatus
	)
	err := m.repo.Transaction(ctx, func(tx repository.OrderRepository) error {
		order, err := tx.FindByIDForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		from = order.Status
		if err := m.apply(ctx, tx, order, req); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, m.translate(req, err)
	}

	m.logger.Info("order status changed",
		zap.String("order_id", updated.ID.String()),
		zap.String("from_status", string(from)),
		zap.String("to_status", string(updated.Status)),
		zap.String("actor_type", string(req.ActorType)),
	)
	recordCount(m.metrics, m.logger, aws_pkg.MetricStatusTransitions, map[string]string{"ToStatus": string(updated.Status)})
	return updated, nil
}

func (m *StatusMachine) apply(ctx context.Context, tx repository.OrderRepository, order *models.Order, req TransitionRequest) error {
	from, to := order.Status, req.ToStatus
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	now := m.now().UTC()
	order.Status = to
	order.UpdatedAt = now
	switch to {
	case models.StatusPaid:
		order.PaidAt = &now
	case models.StatusCancelled:
		order.CancelledAt = &now
	case models.StatusDelivered:
		order.DeliveredAt = &now
	case models.StatusCompleted:
		order.CompletedAt = &now
	}

	if err := tx.UpdateStatus(ctx, order); err != nil {
		return err
	}

	metadata := "{}"
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return fmt.Errorf("marshal transition metadata: %w", err)
		}
		metadata = string(b)
	}

	if err := tx.CreateStatusHistory(ctx, &models.OrderStatusHistory{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     req.Reason,
		Notes:      req.Notes,
		ActorID:    req.ActorID,
		ActorType:  req.ActorType,
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("write status history: %w", err)
	}

	return m.outbox.Record(ctx, tx, order.ID, models.EventOrderStatusChanged, models.OrderStatusChangedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		FromStatus:  from,
		ToStatus:    to,
		Reason:      req.Reason,
		ActorID:     req.ActorID,
		ActorType:   req.ActorType,
		Metadata:    req.Metadata,
		ChangedAt:   now,
	})
}

func (m *StatusMachine) translate(req TransitionRequest, err error) error {
	var invalid *InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		return apperrors.Conflict(apperrors.ReasonInvalidTransition, invalid.Error(), invalid)
	case errors.Is(err, repository.ErrOrderNotFound):
		return apperrors.NotFound("order not found")
	default:
		m.logger.Error("order status transition failed",
			zap.String("order_id", req.OrderID.String()),
			zap.String("to_status", string(req.ToStatus)),
			zap.Error(err),
		)
		return apperrors.Internal("failed to update order status", err)
	}
}
