package services

import (
	"context"
	"time"

	"order-service/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserLookup resolves a buyer's identity. Unknown users yield a not-found
// error from common/errors.
type UserLookup interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
}

// ProductLookup resolves price, seller and display data for a product.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
}

// PaymentGateway creates payment invoices. Repeating a request with the
// same idempotency key returns the same logical payment.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentInvoice, error)
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

// MetricsRecorder is satisfied by pkg/aws.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// recordCount emits a counter in the background; metrics never slow down
// or fail the caller.
func recordCount(metrics MetricsRecorder, logger *zap.Logger, name string, dims map[string]string) {
	if metrics == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.RecordCount(ctx, name, dims); err != nil {
			logger.Debug("metric not recorded", zap.String("metric", name), zap.Error(err))
		}
	}()
}

func recordLatency(metrics MetricsRecorder, logger *zap.Logger, name string, d time.Duration, dims map[string]string) {
	if metrics == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.RecordLatency(ctx, name, d, dims); err != nil {
			logger.Debug("metric not recorded", zap.String("metric", name), zap.Error(err))
		}
	}()
}
