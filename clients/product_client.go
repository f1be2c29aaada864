package clients

import (
	"context"
	"fmt"
	"net/http"

	apperrors "order-service/common/errors"
	"order-service/models"

	"github.com/google/uuid"
)

// ProductClient reads catalog data from the product service's internal API.
type ProductClient struct {
	http *RetryingClient
}

func NewProductClient(client *RetryingClient) *ProductClient {
	return &ProductClient{http: client}
}

func (c *ProductClient) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := c.http.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/products/internal/%s", productID),
		Into:   &product,
	})
	if err != nil {
		if apperrors.HasReason(err, apperrors.ReasonNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("product %s not found", productID))
		}
		return nil, err
	}
	if product.ID == uuid.Nil {
		product.ID = productID
	}
	return &product, nil
}
