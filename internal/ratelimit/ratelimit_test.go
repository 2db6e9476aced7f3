package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/autumn/internal/config"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestLockers(t *testing.T) {
	_, client := redisClient(t)
	ctx := context.Background()

	for name, locker := range map[string]Locker{
		"redis":  NewRedisLocker(client),
		"memory": NewMemoryLocker(),
	} {
		t.Run(name, func(t *testing.T) {
			token, ok, err := locker.TryLock(ctx, "job", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = locker.TryLock(ctx, "job", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, locker.Release(ctx, "job", "someone-else"))
			_, ok, err = locker.TryLock(ctx, "job", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, locker.Release(ctx, "job", token))
			_, ok, err = locker.TryLock(ctx, "job", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			_, _, err = locker.TryLock(ctx, "", time.Minute)
			assert.ErrorIs(t, err, errLockKeyEmpty)
		})
	}
}

func TestMemoryLockerExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewMemoryLocker()
	locker.now = func() time.Time { return now }

	_, ok, err := locker.TryLock(context.Background(), "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = locker.TryLock(context.Background(), "job", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBucketsExhaustBurst(t *testing.T) {
	_, client := redisClient(t)
	ctx := context.Background()

	for name, bucket := range map[string]Limiter{
		"redis":  NewTokenBucket(client),
		"memory": NewMemoryBucket(),
	} {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				res, err := bucket.Allow(ctx, "org:1", 0.001, 3)
				require.NoError(t, err)
				assert.True(t, res.Allowed, "request %d", i)
			}
			res, err := bucket.Allow(ctx, "org:1", 0.001, 3)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Positive(t, res.RetryAfter)

			_, err = bucket.Allow(ctx, "", 1, 1)
			assert.ErrorIs(t, err, errBucketKeyEmpty)
		})
	}
}

func TestTrackLimiter(t *testing.T) {
	ctx := context.Background()
	holder := config.NewStaticBalanceConfigHolder(config.BalanceConfig{
		RateLimit: config.RateLimitConfig{TrackRate: 0.001, TrackBurst: 1},
	})
	limiter := NewTrackLimiter(NewMemoryBucket(), NewMemoryLocker(), holder)
	scope := orgcontext.Scope{OrgID: snowflake.ID(1), Env: orgcontext.EnvLive}

	res, err := limiter.AllowOrg(ctx, scope)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = limiter.AllowOrg(ctx, scope)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	release, err := limiter.LockCustomer(ctx, scope, snowflake.ID(5))
	require.NoError(t, err)
	_, err = limiter.LockCustomer(ctx, scope, snowflake.ID(5))
	assert.ErrorIs(t, err, ErrCustomerBusy)

	release()
	release, err = limiter.LockCustomer(ctx, scope, snowflake.ID(5))
	require.NoError(t, err)
	release()
}

func TestNilTrackLimiterAllows(t *testing.T) {
	var limiter *TrackLimiter
	res, err := limiter.AllowOrg(context.Background(), orgcontext.Scope{})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	release, err := limiter.LockCustomer(context.Background(), orgcontext.Scope{}, 1)
	require.NoError(t, err)
	release()
}
