package syncqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func queues(t *testing.T) map[string]Queue {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Queue{
		"redis":  NewRedisQueue(client, "", zap.NewNop()),
		"memory": NewMemoryQueue(),
	}
}

func item(delta string) Item {
	return Item{
		ID:               NewItemID(),
		OrgID:            snowflake.ID(1),
		Env:              "live",
		CustomerID:       snowflake.ID(2),
		FeatureID:        snowflake.ID(3),
		Delta:            decimal.RequireFromString(delta),
		ObservedVersions: map[string]int64{"10": 4},
		CachedAtMs:       1735689600000,
	}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()

	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			first, second, third := item("1"), item("2.5"), item("37.89")
			require.NoError(t, q.Enqueue(ctx, first, second))
			require.NoError(t, q.Enqueue(ctx, third))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			got, err := q.Dequeue(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, first.ID, got[0].ID)
			assert.Equal(t, second.ID, got[1].ID)
			assert.True(t, got[1].Delta.Equal(decimal.RequireFromString("2.5")))
			assert.Equal(t, int64(4), got[0].ObservedVersions["10"])
			assert.Equal(t, snowflake.ID(2), got[0].CustomerID)

			retry := got[1]
			retry.Attempts++
			require.NoError(t, q.Requeue(ctx, retry))

			got, err = q.Dequeue(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, second.ID, got[0].ID)
			assert.Equal(t, 1, got[0].Attempts)
			assert.Equal(t, third.ID, got[1].ID)

			got, err = q.Dequeue(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestItemScope(t *testing.T) {
	it := item("1")
	assert.True(t, it.Scope().Valid())
	assert.Equal(t, int64(1735689600000), it.CachedAt().UnixMilli())
}
