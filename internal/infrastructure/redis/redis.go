package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Client *redis.Client
	ttl    time.Duration
}

func New(addr, pass string, db int, ttl time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{Client: rdb, ttl: ttl}
}

func windowEndKey(dropID uuid.UUID) string {
	return "drop:window_end:" + dropID.String()
}

// GetClaimWindowEnd serves the fast-fail path: a cached window end that is
// already in the past lets claim requests be rejected without touching
// postgres. Values are stored as unix millis.
func (c *Cache) GetClaimWindowEnd(ctx context.Context, dropID uuid.UUID) (time.Time, error) {
	val, err := c.Client.Get(ctx, windowEndKey(dropID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, domain.ErrCacheMiss
		}
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, domain.ErrCacheMiss
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (c *Cache) SetClaimWindowEnd(ctx context.Context, dropID uuid.UUID, end time.Time) error {
	return c.Client.Set(ctx, windowEndKey(dropID), end.UnixMilli(), c.ttl).Err()
}

// InvalidateDrop must be called whenever an admin changes the window bounds.
func (c *Cache) InvalidateDrop(ctx context.Context, dropID uuid.UUID) error {
	return c.Client.Del(ctx, windowEndKey(dropID)).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
