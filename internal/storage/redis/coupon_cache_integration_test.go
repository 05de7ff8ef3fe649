//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/storage/redis"
)

func startRedis(t *testing.T) redis.Config {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return redis.Config{Addr: fmt.Sprintf("%s:%s", host, port.Port()), TTL: time.Minute}
}

func TestCouponCache(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	client, err := redis.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cache := redis.NewCouponCache(client, cfg.TTL)

	_, err = cache.GetByID(ctx, "c1")
	require.ErrorIs(t, err, coupon.ErrCacheMiss)

	limit := 2
	snap := &coupon.Snapshot{
		ID:                 "c1",
		Code:               "SAVE10",
		DiscountPercentage: decimal.NewFromInt(10),
		StartDate:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:            time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		MaxRedemptions:     &limit,
		RedeemCount:        1,
		SellerID:           "s1",
		ProductIDs:         []string{"p1"},
	}
	require.NoError(t, cache.Put(ctx, snap, 2))

	byID, err := cache.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, snap.Code, byID.Code)
	assert.True(t, snap.DiscountPercentage.Equal(byID.DiscountPercentage))
	assert.Equal(t, snap.StartDate, byID.StartDate)
	require.NotNil(t, byID.MaxRedemptions)
	assert.Equal(t, 2, *byID.MaxRedemptions)

	byCode, err := cache.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "c1", byCode.ID)

	require.NoError(t, cache.Evict(ctx, "c1", 3, "SAVE10"))
	_, err = cache.GetByID(ctx, "c1")
	require.ErrorIs(t, err, coupon.ErrCacheMiss)
	_, err = cache.GetByCode(ctx, "SAVE10")
	require.ErrorIs(t, err, coupon.ErrCacheMiss)

	// A snapshot read before the eviction cannot be put back.
	require.NoError(t, cache.Put(ctx, snap, 2))
	_, err = cache.GetByID(ctx, "c1")
	require.ErrorIs(t, err, coupon.ErrCacheMiss)

	// An older eviction does not clear a newer entry.
	snap.RedeemCount = 2
	require.NoError(t, cache.Put(ctx, snap, 3))
	require.NoError(t, cache.Evict(ctx, "c1", 2, "SAVE10"))
	byID, err = cache.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, byID.RedeemCount)

	raw, err := client.Get(ctx, "marketplace:coupon:id:c1").Result()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "3:{"), "got %q", raw)

	ttl, err := client.PTTL(ctx, "marketplace:coupon:code:SAVE10").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestCouponCache_CorruptEntryIsMiss(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	client, err := redis.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cache := redis.NewCouponCache(client, cfg.TTL)

	for _, raw := range []string{"not-versioned", "1:{broken"} {
		require.NoError(t, client.Set(ctx, "marketplace:coupon:id:bad", raw, time.Minute).Err())
		_, err = cache.GetByID(ctx, "bad")
		require.ErrorIs(t, err, coupon.ErrCacheMiss)

		n, err := client.Exists(ctx, "marketplace:coupon:id:bad").Result()
		require.NoError(t, err)
		assert.Zero(t, n, "corrupt entry %q must be dropped", raw)
	}
}

func TestRateCounter(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	client, err := redis.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	counter := redis.NewRateCounter(client)
	w1 := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	for want := int64(1); want <= 3; want++ {
		n, err := counter.Incr(ctx, "10.0.0.1", w1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := counter.Incr(ctx, "10.0.0.2", w1, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = counter.Incr(ctx, "10.0.0.1", w1.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ttl, err := client.PTTL(ctx, "marketplace:ratelimit:10.0.0.1:"+fmt.Sprint(w1.Unix())).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, time.Minute)
}
