package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultKey = "autumn:sync:queue"

// RedisQueue pushes on the head of a list and pops from its tail.
type RedisQueue struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

func NewRedisQueue(client *redis.Client, key string, log *zap.Logger) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key, log: log}
}

func (q *RedisQueue) Enqueue(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode sync item %s: %w", item.ID, err)
		}
		values = append(values, raw)
	}
	return q.client.LPush(ctx, q.key, values...).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, max int) ([]Item, error) {
	if max <= 0 {
		return nil, nil
	}
	raws, err := q.client.RPopCount(ctx, q.key, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			q.log.Error("dropping undecodable sync item", zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Requeue puts the item back at the tail so it is picked up next.
func (q *RedisQueue) Requeue(ctx context.Context, item Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode sync item %s: %w", item.ID, err)
	}
	return q.client.RPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
