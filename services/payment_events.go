package services

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "order-service/common/errors"
	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	paymentSucceeded      = "payment_succeeded"
	paymentFailed         = "payment_failed"
	paymentExpired        = "payment_expired"
	checkoutSessionFailed = "checkout_session_failed"
)

// PaymentEventSync settles orders from payment service events. Successful
// payments mark the order paid; failed or expired ones cancel it while it
// is still waiting for money.
type PaymentEventSync struct {
	repo    repository.OrderRepository
	machine *StatusMachine
	logger  *zap.Logger
}

func NewPaymentEventSync(repo repository.OrderRepository, machine *StatusMachine, logger *zap.Logger) *PaymentEventSync {
	return &PaymentEventSync{repo: repo, machine: machine, logger: logger}
}

// HandleMessage returns an error only for failures worth redelivering.
func (s *PaymentEventSync) HandleMessage(ctx context.Context, body string) error {
	body = unwrapSNSEnvelope(body)

	var evt models.PaymentEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		s.logger.Error("dropping malformed payment event", zap.Error(err))
		return nil
	}

	var target models.OrderStatus
	switch evt.Type {
	case paymentSucceeded:
		target = models.StatusPaid
	case paymentFailed, paymentExpired, checkoutSessionFailed:
		target = models.StatusCancelled
	default:
		s.logger.Debug("ignoring payment event", zap.String("type", evt.Type))
		return nil
	}

	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Warn("payment event without a valid order id", zap.String("order_id", evt.OrderID))
		return nil
	}
	log := s.logger.With(
		zap.String("order_id", orderID.String()),
		zap.String("payment_id", evt.PaymentID),
		zap.String("type", evt.Type),
	)

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Warn("payment event for unknown order")
			return nil
		}
		return err
	}
	if order.Status == target {
		return nil
	}
	if order.Status != models.StatusPending && order.Status != models.StatusAwaitingPayment {
		log.Info("order no longer awaits payment", zap.String("status", string(order.Status)))
		return nil
	}
	if target == models.StatusPaid && evt.Amount != 0 && evt.Amount != order.TotalAmount {
		log.Error("payment amount does not match order total",
			zap.Int64("amount", evt.Amount),
			zap.Int64("order_total", order.TotalAmount),
		)
		return nil
	}

	metadata := map[string]any{"payment_id": evt.PaymentID}
	if evt.Reason != "" {
		metadata["failure_reason"] = evt.Reason
	}
	_, err = s.machine.Transition(ctx, TransitionRequest{
		OrderID:   orderID,
		ToStatus:  target,
		Reason:    evt.Type,
		ActorID:   "payment-service",
		ActorType: models.ActorSystem,
		Metadata:  metadata,
	})
	if err == nil {
		log.Info("order settled from payment event", zap.String("status", string(target)))
		return nil
	}
	if apperrors.HasReason(err, apperrors.ReasonInvalidTransition) || apperrors.HasReason(err, apperrors.ReasonNotFound) {
		log.Warn("payment transition rejected", zap.Error(err))
		return nil
	}
	return err
}
