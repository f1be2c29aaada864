package clients

import (
	"context"
	"net/http"

	"order-service/models"

	"github.com/google/uuid"
)

// PaymentClient creates payment invoices. The idempotency key travels both
// in the body and in the Idempotency-Key header so the payment service can
// deduplicate before parsing.
type PaymentClient struct {
	http *RetryingClient
}

func NewPaymentClient(client *RetryingClient) *PaymentClient {
	return &PaymentClient{http: client}
}

func (c *PaymentClient) CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentInvoice, error) {
	var invoice models.PaymentInvoice
	err := c.http.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/payments/initiate",
		Header: http.Header{
			"Idempotency-Key": []string{req.IdempotencyKey},
			"X-User-ID":       []string{req.UserID.String()},
		},
		Body: req,
		Into: &invoice,
	})
	if err != nil {
		return nil, err
	}
	if invoice.OrderID == uuid.Nil {
		invoice.OrderID = req.OrderID
	}
	return &invoice, nil
}
