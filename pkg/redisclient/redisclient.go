package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/autumn/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrRedisNotReady = errors.New("redis did not become ready")

var Module = fx.Module("redis",
	fx.Provide(New),
)

// Connect dials redis and pings it, retrying with a fixed interval.
func Connect(ctx context.Context, cfg config.RedisConfig, interval time.Duration) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	attempts := cfg.DialRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.Password),
			DB:       cfg.DB,
		})
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// New provides the shared client. It returns nil when the process runs
// with the in-memory cache backend.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.UsesRedis() {
		log.Info("redis disabled, using in-memory cache backend")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := Connect(ctx, cfg.Redis, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return client, nil
}
