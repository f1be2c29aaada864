package services

import (
	"context"
	"encoding/json"
	"fmt"

	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxWriter records domain events in the caller's transaction.
//
// In strict mode a failed write fails the transaction. In lenient mode the
// write runs in a savepoint and a failure is logged and rolled back to the
// savepoint, leaving the rest of the transaction intact. Production always
// runs strict.
type OutboxWriter struct {
	strict bool
	logger *zap.Logger
}

func NewOutboxWriter(strict bool, logger *zap.Logger) *OutboxWriter {
	return &OutboxWriter{strict: strict, logger: logger}
}

// Record must be called with a repository bound to an open transaction.
func (w *OutboxWriter) Record(ctx context.Context, tx repository.OrderRepository, aggregateID uuid.UUID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return w.fail(aggregateID, eventType, fmt.Errorf("marshal %s payload: %w", eventType, err))
	}

	event := &models.OutboxEvent{
		AggregateType: models.AggregateOrder,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       string(body),
	}

	if w.strict {
		if err := tx.CreateOutboxEvent(ctx, event); err != nil {
			return fmt.Errorf("write %s outbox event: %w", eventType, err)
		}
		return nil
	}

	err = tx.Transaction(ctx, func(sp repository.OrderRepository) error {
		return sp.CreateOutboxEvent(ctx, event)
	})
	if err != nil {
		return w.fail(aggregateID, eventType, err)
	}
	return nil
}

func (w *OutboxWriter) fail(aggregateID uuid.UUID, eventType string, err error) error {
	if w.strict {
		return err
	}
	w.logger.Warn("outbox write failed, continuing without event",
		zap.String("aggregate_id", aggregateID.String()),
		zap.String("event_type", eventType),
		zap.Error(err),
	)
	return nil
}
