package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"order-service/models"
	"order-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaymentSaga_RecordsInitiationLatency(t *testing.T) {
	db := newMemoryDB()
	logger := zap.NewNop()
	metrics := &countingMetrics{
		recorded:  make(chan map[string]string, 4),
		latencies: make(chan map[string]string, 1),
	}
	machine := services.NewStatusMachine(db.repo(), nil, logger)
	saga := services.NewPaymentSaga(newFakePayments(), machine, metrics, logger)
	order := seedOrder(t, db, models.StatusPending)

	outcome := saga.InitiatePayments(context.Background(), []models.Order{order}, services.PaymentInitiation{
		CheckoutKey: strings.TrimSuffix(order.IdempotencyKey, ":0"),
	})
	require.Len(t, outcome.Succeeded, 1)

	select {
	case dims := <-metrics.latencies:
		assert.Equal(t, "succeeded", dims["Outcome"])
	case <-time.After(time.Second):
		t.Fatal("payment latency not recorded")
	}
}
