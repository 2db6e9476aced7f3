package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewLocker),
	fx.Provide(NewLimiter),
	fx.Provide(NewTrackLimiter),
)

func NewLocker(client *redis.Client) Locker {
	if client == nil {
		return NewMemoryLocker()
	}
	return NewRedisLocker(client)
}

func NewLimiter(client *redis.Client) Limiter {
	if client == nil {
		return NewMemoryBucket()
	}
	return NewTokenBucket(client)
}
