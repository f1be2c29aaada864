package clients

import (
	"context"
	"net/http"

	apperrors "order-service/common/errors"
	"order-service/models"

	"github.com/google/uuid"
)

// UserClient fetches profiles from the user service on behalf of a user.
type UserClient struct {
	http *RetryingClient
}

func NewUserClient(client *RetryingClient) *UserClient {
	return &UserClient{http: client}
}

func (c *UserClient) GetUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := c.http.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/users/profile",
		Header: http.Header{"X-User-ID": []string{userID.String()}},
		Into:   &profile,
	})
	if err != nil {
		if apperrors.HasReason(err, apperrors.ReasonNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, err
	}
	profile.ID = userID
	return &profile, nil
}
