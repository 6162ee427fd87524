//go:build integration
// +build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	rediscache "github.com/dropspot/drop-service/internal/infrastructure/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestCache_ClaimWindowEnd_GetSetInvalidate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := rediscache.New(testRedisAddr(t), "", 0, time.Minute)
	dropID := uuid.New()

	// miss
	_, err := cache.GetClaimWindowEnd(ctx, dropID)
	require.True(t, errors.Is(err, domain.ErrCacheMiss))

	// set then get; stored at milli precision
	end := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Millisecond)
	require.NoError(t, cache.SetClaimWindowEnd(ctx, dropID, end))
	got, err := cache.GetClaimWindowEnd(ctx, dropID)
	require.NoError(t, err)
	require.True(t, got.Equal(end))

	// invalidate returns it to a miss
	require.NoError(t, cache.InvalidateDrop(ctx, dropID))
	_, err = cache.GetClaimWindowEnd(ctx, dropID)
	require.True(t, errors.Is(err, domain.ErrCacheMiss))
}

func TestCache_AllowRequest_FixedWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := rediscache.New(testRedisAddr(t), "", 0, time.Minute)
	ip := "10.0.0." + uuid.NewString()[:4]

	for i := 0; i < 3; i++ {
		ok, err := cache.AllowRequest(ctx, ip, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := cache.AllowRequest(ctx, ip, 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
