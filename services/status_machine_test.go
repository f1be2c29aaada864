package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "order-service/common/errors"
	"order-service/models"
	"order-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
		want     bool
	}{
		{models.StatusPending, models.StatusAwaitingPayment, true},
		{models.StatusPending, models.StatusPaid, true},
		{models.StatusPending, models.StatusShipped, false},
		{models.StatusAwaitingPayment, models.StatusPaid, true},
		{models.StatusAwaitingPayment, models.StatusPending, false},
		{models.StatusPaid, models.StatusPartiallyRefunded, true},
		{models.StatusProcessing, models.StatusReadyToShip, true},
		{models.StatusShipped, models.StatusCancelled, false},
		{models.StatusInTransit, models.StatusDelivered, true},
		{models.StatusDelivered, models.StatusProcessing, false},
		{models.StatusDelivered, models.StatusCompleted, true},
		{models.StatusCancelled, models.StatusRefunded, true},
		{models.StatusRefunded, models.StatusCompleted, false},
		{models.StatusPartiallyRefunded, models.StatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, services.CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextStatuses_TerminalStates(t *testing.T) {
	assert.Empty(t, services.NextStatuses(models.StatusRefunded))
	assert.Empty(t, services.NextStatuses(models.StatusPartiallyRefunded))
	assert.False(t, services.IsKnownStatus("lost"))
}

func TestTransition_AppliesHistoryAndOutbox(t *testing.T) {
	db := newMemoryDB()
	machine := services.NewStatusMachine(db.repo(), nil, zap.NewNop())
	order := seedOrder(t, db, models.StatusAwaitingPayment)

	updated, err := machine.Transition(context.Background(), services.TransitionRequest{
		OrderID:   order.ID,
		ToStatus:  models.StatusPaid,
		Reason:    "payment_settled",
		ActorID:   "payment-service",
		ActorType: models.ActorSystem,
		Metadata:  map[string]any{"payment_id": "pay-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, updated.Status)
	require.NotNil(t, updated.PaidAt)

	stored := db.order(order.ID)
	assert.Equal(t, models.StatusPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Nil(t, stored.CancelledAt)

	history, err := db.repo().FindStatusHistory(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusAwaitingPayment, history[0].FromStatus)
	assert.Equal(t, models.StatusPaid, history[0].ToStatus)
	assert.Equal(t, "payment-service", history[0].ActorID)
	assert.JSONEq(t, `{"payment_id":"pay-1"}`, history[0].Metadata)

	events := db.events(models.EventOrderStatusChanged)
	require.Len(t, events, 1)
	var payload models.OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, models.StatusAwaitingPayment, payload.FromStatus)
	assert.Equal(t, models.StatusPaid, payload.ToStatus)
}

func TestTransition_Milestones(t *testing.T) {
	db := newMemoryDB()
	machine := services.NewStatusMachine(db.repo(), nil, zap.NewNop())
	ctx := context.Background()

	cancelled := seedOrder(t, db, models.StatusPending)
	_, err := machine.Transition(ctx, services.TransitionRequest{OrderID: cancelled.ID, ToStatus: models.StatusCancelled})
	require.NoError(t, err)
	assert.NotNil(t, db.order(cancelled.ID).CancelledAt)

	delivered := seedOrder(t, db, models.StatusOutForDelivery)
	_, err = machine.Transition(ctx, services.TransitionRequest{OrderID: delivered.ID, ToStatus: models.StatusDelivered})
	require.NoError(t, err)
	_, err = machine.Transition(ctx, services.TransitionRequest{OrderID: delivered.ID, ToStatus: models.StatusCompleted})
	require.NoError(t, err)

	stored := db.order(delivered.ID)
	assert.NotNil(t, stored.DeliveredAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.PaidAt)

	history, err := db.repo().FindStatusHistory(ctx, delivered.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ActorSystem, history[0].ActorType)
	assert.Equal(t, "{}", history[0].Metadata)
}

func TestTransition_InvalidLeavesEverythingUntouched(t *testing.T) {
	db := newMemoryDB()
	machine := services.NewStatusMachine(db.repo(), nil, zap.NewNop())
	order := seedOrder(t, db, models.StatusDelivered)

	_, err := machine.Transition(context.Background(), services.TransitionRequest{
		OrderID:  order.ID,
		ToStatus: models.StatusProcessing,
	})
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.Equal(t, apperrors.ReasonInvalidTransition, appErr.Reason)

	var invalid *services.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, models.StatusDelivered, invalid.From)
	assert.Equal(t, models.StatusProcessing, invalid.To)

	assert.Equal(t, models.StatusDelivered, db.order(order.ID).Status)
	history, _ := db.repo().FindStatusHistory(context.Background(), order.ID)
	assert.Empty(t, history)
	assert.Empty(t, db.events(models.EventOrderStatusChanged))
}

func TestTransition_UnknownStatusAndOrder(t *testing.T) {
	db := newMemoryDB()
	machine := services.NewStatusMachine(db.repo(), nil, zap.NewNop())
	ctx := context.Background()

	_, err := machine.Transition(ctx, services.TransitionRequest{OrderID: uuid.New(), ToStatus: "lost"})
	assert.True(t, apperrors.HasReason(err, apperrors.ReasonInvalidRequest))

	_, err = machine.Transition(ctx, services.TransitionRequest{OrderID: uuid.New(), ToStatus: models.StatusPaid})
	assert.True(t, apperrors.HasReason(err, apperrors.ReasonNotFound))
}

func TestTransition_FailureRollsBackAllWrites(t *testing.T) {
	tests := []struct {
		name   string
		failOp string
	}{
		{"history write fails", "CreateStatusHistory"},
		{"outbox write fails", "CreateOutboxEvent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newMemoryDB()
			machine := services.NewStatusMachine(db.repo(), nil, zap.NewNop())
			order := seedOrder(t, db, models.StatusPaid)
			db.fail(tt.failOp, 0, errors.New("connection reset"))

			_, err := machine.Transition(context.Background(), services.TransitionRequest{
				OrderID:  order.ID,
				ToStatus: models.StatusProcessing,
			})
			require.Error(t, err)
			assert.True(t, apperrors.HasReason(err, apperrors.ReasonInternal))

			assert.Equal(t, models.StatusPaid, db.order(order.ID).Status)
			history, _ := db.repo().FindStatusHistory(context.Background(), order.ID)
			assert.Empty(t, history)
			assert.Empty(t, db.events(models.EventOrderStatusChanged))
		})
	}
}

type countingMetrics struct {
	recorded  chan map[string]string
	latencies chan map[string]string
}

func (m *countingMetrics) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	if metricName == "StatusTransitions" {
		m.recorded <- dimensions
	}
	return errors.New("cloudwatch unreachable")
}

func (m *countingMetrics) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	if metricName == "PaymentInitiationLatency" && m.latencies != nil {
		m.latencies <- dimensions
	}
	return nil
}

func TestTransition_RecordsMetricWithoutFailing(t *testing.T) {
	db := newMemoryDB()
	metrics := &countingMetrics{recorded: make(chan map[string]string, 1)}
	machine := services.NewStatusMachine(db.repo(), metrics, zap.NewNop())
	order := seedOrder(t, db, models.StatusPending)

	_, err := machine.Transition(context.Background(), services.TransitionRequest{
		OrderID:   order.ID,
		ToStatus:  models.StatusAwaitingPayment,
		ActorID:   "system",
		ActorType: models.ActorSystem,
	})
	require.NoError(t, err)

	select {
	case dims := <-metrics.recorded:
		assert.Equal(t, "awaiting_payment", dims["ToStatus"])
	case <-time.After(time.Second):
		t.Fatal("status transition metric not recorded")
	}
}
