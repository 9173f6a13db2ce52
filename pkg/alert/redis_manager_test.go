package alert

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedis 本地 Redis 不可用时跳过
func setupRedis(tb testing.TB) *RedisManager {
	tb.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 12})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		tb.Skipf("skipping test; redis not available: %v", err)
	}
	rdb.FlushDB(context.Background())
	tb.Cleanup(func() { _ = rdb.Close() })
	return NewRedisManager(rdb)
}

func TestRedisManager_SubscribeUnsubscribe(t *testing.T) {
	m := setupRedis(t)
	ctx := context.Background()

	rule := Rule{ID: "1001", User: "alice", FeedKey: "XLM", Direction: Below, Price: 6_500_000, Type: AlertOnce}
	require.NoError(t, m.Subscribe(ctx, rule))

	score, err := m.client.ZScore(ctx, indexKey("XLM", Below), "1001:once").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(6_500_000), score)

	got, err := m.Rule(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, rule.User, got.User)
	assert.NotZero(t, got.CreatedAt)

	// 覆盖为 Above: 旧索引被移除
	rule.Direction = Above
	rule.Type = AlertAlways
	require.NoError(t, m.Subscribe(ctx, rule))
	n, err := m.client.ZCard(ctx, indexKey("XLM", Below)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = m.client.ZScore(ctx, indexKey("XLM", Above), "1001:always").Result()
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(ctx, "1001"))
	n, err = m.client.ZCard(ctx, indexKey("XLM", Above)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = m.Rule(ctx, "1001")
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.ErrorIs(t, m.Unsubscribe(ctx, "1001"), ErrRuleNotFound)
}

func TestRedisManager_Directions(t *testing.T) {
	checkDirections(t, setupRedis(t))
}

func TestRedisManager_ManyOnceRulesAcrossPages(t *testing.T) {
	m := setupRedis(t)
	ctx := context.Background()

	const n = 3*scanBatch + 7
	for i := 0; i < n; i++ {
		require.NoError(t, m.Subscribe(ctx, Rule{
			ID: fmt.Sprintf("herd_%04d", i), User: "alice", FeedKey: "XLM",
			Direction: Below, Price: 6_500_000, Type: AlertOnce,
		}))
	}

	got, err := m.Triggered(ctx, "XLM", 6_000_000, 7_000_000)
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Equal(t, "herd_0000", got[0].ID)

	got, err = m.Triggered(ctx, "XLM", 5_000_000, 6_000_000)
	require.NoError(t, err)
	assert.Empty(t, got)
}
