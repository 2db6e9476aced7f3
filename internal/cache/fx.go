package cache

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/autumn/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewStore),
	fx.Provide(NewResolverCache),
)

// NewStore picks the redis store when a client is configured.
func NewStore(client *redis.Client, holder *config.BalanceConfigHolder, log *zap.Logger) Store {
	ttl := func() time.Duration { return holder.Get().Cache.TTL }
	if client == nil {
		log.Named("cache").Info("using in-memory balance cache")
		return NewMemoryStore(ttl)
	}
	return NewRedisStore(client, ttl)
}
