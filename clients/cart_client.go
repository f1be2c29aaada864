package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type CartClient struct {
	http *RetryingClient
}

func NewCartClient(client *RetryingClient) *CartClient {
	return &CartClient{http: client}
}

// ClearCart empties the user's cart after a checkout.
func (c *CartClient) ClearCart(ctx context.Context, userID uuid.UUID) error {
	return c.http.Do(ctx, Request{
		Method: http.MethodDelete,
		Path:   "/cart/clear",
		Header: http.Header{"X-User-ID": []string{userID.String()}},
	})
}
