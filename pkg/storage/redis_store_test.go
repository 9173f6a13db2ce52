package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/pool"
)

// setupRedis 本地 Redis 不可用时跳过
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 13})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	rdb.FlushDB(context.Background())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "levpool:params", CacheKey(pool.RecordKey{Kind: pool.RecordParams}))
	assert.Equal(t, "levpool:position:alice", CacheKey(pool.RecordKey{Kind: pool.RecordPosition, User: "alice"}))
	assert.Equal(t, "levpool:balance:alice:XLM", CacheKey(pool.RecordKey{Kind: pool.RecordBalance, User: "alice", Asset: "XLM"}))
	assert.Equal(t, "levpool:reserve:USDC", CacheKey(pool.RecordKey{Kind: pool.RecordReserve, Asset: "USDC"}))
}

func TestRedisStore_WriteThrough(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	inner := pool.NewMemStore()
	s := NewRedisStore(inner, rdb, time.Second, nil)

	require.NoError(t, s.Apply(ctx, sampleChangeSet(1000)))

	p, ok, err := s.Position(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3_000), p.BorrowedAmount)
	assert.Equal(t, pool.Short, p.Direction)

	bal, ok, err := s.Balance(ctx, "alice", "XLM")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250), bal)

	shares, ok, err := s.Shares(ctx, "lp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10_000), shares)

	// 删除仓位同步删缓存
	cs := pool.NewChangeSet(1100)
	cs.Positions["alice"] = nil
	require.NoError(t, s.Apply(ctx, cs))
	_, ok, err = s.Position(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// 底层也已写入
	assert.Equal(t, uint64(1100+pool.RetentionBump), inner.RetainUntil(pool.RecordKey{Kind: pool.RecordPosition, User: "alice"}))
}

func TestRedisStore_TouchExtendsTTL(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	s := NewRedisStore(pool.NewMemStore(), rdb, time.Second, nil)
	require.NoError(t, s.Apply(ctx, sampleChangeSet(1000)))

	key := pool.RecordKey{Kind: pool.RecordShares, User: "lp1"}
	require.NoError(t, rdb.Expire(ctx, CacheKey(key), time.Minute).Err())
	require.NoError(t, s.Touch(ctx, 2000, key))

	ttl, err := s.TTL(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)
}

func TestRedisStore_InnerFailureSkipsCache(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	inner := pool.NewMemStore()
	inner.FailApply = errors.New("disk full")
	s := NewRedisStore(inner, rdb, time.Second, nil)

	require.Error(t, s.Apply(ctx, sampleChangeSet(1000)))
	_, ok, err := s.Position(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_LoadWarmsCache(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	inner := pool.NewMemStore()
	require.NoError(t, inner.Apply(ctx, sampleChangeSet(1000)))

	s := NewRedisStore(inner, rdb, time.Second, nil)
	cs, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cs.Params)

	_, ok, err := s.Position(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}
