package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-service/models"
	aws_pkg "order-service/pkg/aws"

	"go.uber.org/zap"
)

// PaymentInitiation carries the checkout-level inputs for payment creation.
type PaymentInitiation struct {
	CheckoutKey   string
	PaymentMethod string
	ExpiresAt     *time.Time
}

// PaymentOutcome splits a checkout's orders by whether payment creation
// succeeded.
type PaymentOutcome struct {
	Succeeded []models.PaymentInvoice
	Failed    []models.FailedPayment
}

// PaymentSaga creates one payment per order after the orders are
// committed, moving each paid-for order to awaiting_payment in its own
// transaction. A failure for one order never stops its siblings.
type PaymentSaga struct {
	payments PaymentGateway
	machine  *StatusMachine
	metrics  MetricsRecorder
	logger   *zap.Logger
}

func NewPaymentSaga(payments PaymentGateway, machine *StatusMachine, metrics MetricsRecorder, logger *zap.Logger) *PaymentSaga {
	return &PaymentSaga{
		payments: payments,
		machine:  machine,
		metrics:  metrics,
		logger:   logger,
	}
}

// InitiatePayments processes orders in order. Orders that are past
// awaiting_payment need no payment and are skipped.
func (p *PaymentSaga) InitiatePayments(ctx context.Context, orders []models.Order, in PaymentInitiation) PaymentOutcome {
	var outcome PaymentOutcome

	for _, order := range orders {
		if order.Status != models.StatusPending && order.Status != models.StatusAwaitingPayment {
			p.logger.Debug("order needs no payment",
				zap.String("order_id", order.ID.String()),
				zap.String("status", string(order.Status)),
			)
			continue
		}

		invoice, err := p.initiate(ctx, order, in)
		if err != nil {
			p.logger.Warn("payment initiation failed",
				zap.String("order_id", order.ID.String()),
				zap.String("order_number", order.OrderNumber),
				zap.Error(err),
			)
			outcome.Failed = append(outcome.Failed, models.FailedPayment{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Error:       err.Error(),
			})
			recordCount(p.metrics, p.logger, aws_pkg.MetricPaymentInitiationFailed, nil)
			continue
		}

		outcome.Succeeded = append(outcome.Succeeded, *invoice)
		recordCount(p.metrics, p.logger, aws_pkg.MetricPaymentInitiated, nil)
	}

	return outcome
}

func (p *PaymentSaga) initiate(ctx context.Context, order models.Order, in PaymentInitiation) (*models.PaymentInvoice, error) {
	index, ok := models.GroupIndex(in.CheckoutKey, order.IdempotencyKey)
	if !ok {
		return nil, fmt.Errorf("order %s does not belong to checkout %q", order.OrderNumber, in.CheckoutKey)
	}
	paymentKey := models.PaymentIdempotencyKey(in.CheckoutKey, index)

	metadata := map[string]string{
		"order_number": order.OrderNumber,
		"checkout_key": in.CheckoutKey,
	}
	if order.SellerID != nil {
		metadata["seller_id"] = order.SellerID.String()
	}

	start := time.Now()
	invoice, err := p.payments.CreatePayment(ctx, models.PaymentRequest{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		IdempotencyKey: paymentKey,
		PaymentMethod:  in.PaymentMethod,
		ExpiresAt:      in.ExpiresAt,
		Metadata:       metadata,
	})
	recordLatency(p.metrics, p.logger, aws_pkg.MetricPaymentLatency, time.Since(start), map[string]string{"Outcome": outcomeDimension(err)})
	if err != nil {
		return nil, err
	}

	if order.Status != models.StatusPending {
		return invoice, nil
	}

	_, err = p.machine.Transition(ctx, TransitionRequest{
		OrderID:   order.ID,
		ToStatus:  models.StatusAwaitingPayment,
		Reason:    "payment_initiated",
		ActorID:   "checkout",
		ActorType: models.ActorSystem,
		Metadata: map[string]any{
			"payment_id":      invoice.ID,
			"idempotency_key": paymentKey,
		},
	})
	if err != nil {
		// A concurrent submission of the same checkout, or a fast payment
		// webhook, may already have moved the order on.
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) && invalid.From != models.StatusPending {
			return invoice, nil
		}
		return nil, fmt.Errorf("payment %s created but order status update failed: %w", invoice.ID, err)
	}

	return invoice, nil
}

func outcomeDimension(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
