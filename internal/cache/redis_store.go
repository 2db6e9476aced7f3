package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const scanCount = 500

type RedisStore struct {
	client *redis.Client
	ttl    func() time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl func() time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*CachedCustomer, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}

	var snapshot CachedCustomer
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// A payload we cannot read is treated as a miss and dropped.
		_ = s.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return &snapshot, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, snapshot *CachedCustomer, sourceTag string, fetchTimeMs int64) error {
	if snapshot == nil {
		return nil
	}
	stored := *snapshot
	stored.SourceTag = sourceTag
	stored.FetchTimeMs = fetchTimeMs
	stored.UpdatedAtMs = s.now().UnixMilli()

	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, s.ttl()).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, s.now().UnixMilli(), ttl).Result()
}

func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+":*:customer:*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range batch {
			if isCustomerKey(key) {
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
