package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"order-service/models"
	"order-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func shipmentEvent(t *testing.T, orderID uuid.UUID, eventType, status string) string {
	t.Helper()
	body, err := json.Marshal(models.ShipmentUpdatedEvent{
		EventType:    eventType,
		ShipmentID:   "shp-1",
		OrderID:      orderID.String(),
		TrackingCode: "JNE123",
		Status:       status,
	})
	require.NoError(t, err)
	return string(body)
}

func TestMapShipmentStatus(t *testing.T) {
	tests := map[string]models.OrderStatus{
		"label_created":    models.StatusReadyToShip,
		"SHIPPED":          models.StatusShipped,
		" in_transit ":     models.StatusInTransit,
		"transit":          models.StatusInTransit,
		"out_for_delivery": models.StatusOutForDelivery,
		"delivered":        models.StatusDelivered,
	}
	for in, want := range tests {
		got, ok := services.MapShipmentStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := services.MapShipmentStatus("failure")
	assert.False(t, ok)
}

func TestShipmentSync_WalksFulfilmentStates(t *testing.T) {
	db := newMemoryDB()
	logger := zap.NewNop()
	syncer := services.NewShipmentStatusSync(db.repo(), services.NewStatusMachine(db.repo(), nil, logger), logger)
	order := seedOrder(t, db, models.StatusProcessing)

	err := syncer.HandleMessage(context.Background(), shipmentEvent(t, order.ID, "shipment_updated", "in_transit"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusInTransit, db.order(order.ID).Status)
	history, _ := db.repo().FindStatusHistory(context.Background(), order.ID)
	require.Len(t, history, 3)
	assert.Equal(t, models.StatusReadyToShip, history[0].ToStatus)
	assert.Equal(t, models.StatusShipped, history[1].ToStatus)
	assert.Equal(t, models.StatusInTransit, history[2].ToStatus)
	assert.Equal(t, "shipping-service", history[2].ActorID)
	assert.Len(t, db.events(models.EventOrderStatusChanged), 3)
}

func TestShipmentSync_CreatedEventAndSNSEnvelope(t *testing.T) {
	db := newMemoryDB()
	logger := zap.NewNop()
	syncer := services.NewShipmentStatusSync(db.repo(), services.NewStatusMachine(db.repo(), nil, logger), logger)
	order := seedOrder(t, db, models.StatusProcessing)

	envelope, err := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": shipmentEvent(t, order.ID, "shipment_created", ""),
	})
	require.NoError(t, err)

	require.NoError(t, syncer.HandleMessage(context.Background(), string(envelope)))
	assert.Equal(t, models.StatusReadyToShip, db.order(order.ID).Status)
}

func TestShipmentSync_IgnoresWhatItCannotApply(t *testing.T) {
	db := newMemoryDB()
	logger := zap.NewNop()
	syncer := services.NewShipmentStatusSync(db.repo(), services.NewStatusMachine(db.repo(), nil, logger), logger)
	ctx := context.Background()

	pending := seedOrder(t, db, models.StatusPending)
	delivered := seedOrder(t, db, models.StatusDelivered)

	assert.NoError(t, syncer.HandleMessage(ctx, "not json"))
	assert.NoError(t, syncer.HandleMessage(ctx, shipmentEvent(t, uuid.New(), "shipment_updated", "shipped")))
	assert.NoError(t, syncer.HandleMessage(ctx, shipmentEvent(t, pending.ID, "shipment_updated", "shipped")))
	assert.NoError(t, syncer.HandleMessage(ctx, shipmentEvent(t, delivered.ID, "shipment_updated", "in_transit")))
	assert.NoError(t, syncer.HandleMessage(ctx, shipmentEvent(t, delivered.ID, "shipment_updated", "delivered")))
	assert.NoError(t, syncer.HandleMessage(ctx, shipmentEvent(t, pending.ID, "shipment_updated", "returned")))

	assert.Equal(t, models.StatusPending, db.order(pending.ID).Status)
	assert.Equal(t, models.StatusDelivered, db.order(delivered.ID).Status)
	assert.Empty(t, db.events(models.EventOrderStatusChanged))
}

func TestShipmentSync_StorageFailureIsRedelivered(t *testing.T) {
	db := newMemoryDB()
	logger := zap.NewNop()
	syncer := services.NewShipmentStatusSync(db.repo(), services.NewStatusMachine(db.repo(), nil, logger), logger)
	order := seedOrder(t, db, models.StatusShipped)
	db.fail("UpdateStatus", 0, errors.New("connection reset"))

	err := syncer.HandleMessage(context.Background(), shipmentEvent(t, order.ID, "shipment_updated", "delivered"))
	assert.Error(t, err)
	assert.Equal(t, models.StatusShipped, db.order(order.ID).Status)
}
