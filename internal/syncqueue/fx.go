package syncqueue

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("syncqueue",
	fx.Provide(New),
)

func New(client *redis.Client, log *zap.Logger) Queue {
	if client == nil {
		return NewMemoryQueue()
	}
	return NewRedisQueue(client, DefaultKey, log.Named("syncqueue"))
}
