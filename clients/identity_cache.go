package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-service/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UserLookup is the subset of UserClient the cache wraps.
type UserLookup interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
}

// CachedUserLookup keeps identity snapshots in Redis. Redis problems never
// fail a lookup; they only cost a call to the user service. Failed lookups
// are not cached.
type CachedUserLookup struct {
	next   UserLookup
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedUserLookup(next UserLookup, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedUserLookup {
	return &CachedUserLookup{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *CachedUserLookup) getKey(userID uuid.UUID) string {
	return fmt.Sprintf("order:identity:%s", userID)
}

func (c *CachedUserLookup) GetUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	key := c.getKey(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile models.UserProfile
		if uerr := json.Unmarshal(data, &profile); uerr == nil {
			return &profile, nil
		}
		c.logger.Warn("discarding unreadable identity cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("identity cache read failed", zap.String("key", key), zap.Error(err))
	}

	profile, err := c.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(profile); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("identity cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return profile, nil
}

// NewRedisClient parses a redis:// URL. The connection is not checked: the
// cache works without Redis.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
