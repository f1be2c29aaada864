package services

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "order-service/common/errors"
	"order-service/models"

	"go.uber.org/zap"
)

const checkoutRequestedEvent = "checkout.requested"

// CheckoutQueueHandler runs checkouts submitted through the checkout queue.
type CheckoutQueueHandler struct {
	checkout CheckoutService
	logger   *zap.Logger
}

func NewCheckoutQueueHandler(checkout CheckoutService, logger *zap.Logger) *CheckoutQueueHandler {
	return &CheckoutQueueHandler{checkout: checkout, logger: logger}
}

// HandleMessage acknowledges messages that can never succeed (malformed,
// invalid, unknown user or product) and returns an error for everything
// else so the queue redelivers them. Redelivery is safe because checkout
// is idempotent per key.
func (h *CheckoutQueueHandler) HandleMessage(ctx context.Context, body string) error {
	body = unwrapSNSEnvelope(body)

	var msg models.CheckoutMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		h.logger.Error("dropping malformed checkout message", zap.Error(err))
		return nil
	}
	if msg.Event != "" && msg.Event != checkoutRequestedEvent {
		h.logger.Debug("ignoring queue event", zap.String("event", msg.Event))
		return nil
	}

	result, err := h.checkout.Checkout(ctx, &msg.CheckoutRequest)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Code < http.StatusInternalServerError {
			h.logger.Warn("dropping rejected checkout message",
				zap.String("user_id", msg.UserID.String()),
				zap.String("checkout_key", msg.IdempotencyKey),
				zap.String("reason", appErr.Reason),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	h.logger.Info("queued checkout processed",
		zap.String("user_id", msg.UserID.String()),
		zap.String("checkout_key", msg.IdempotencyKey),
		zap.Bool("is_existing", result.IsExisting),
		zap.Int("failed_payments", len(result.FailedPayments)),
	)
	return nil
}
