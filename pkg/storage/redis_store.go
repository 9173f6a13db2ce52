// 文件: pkg/storage/redis_store.go
// 池状态 Redis 缓存层
//
// 【设计模式】装饰器
// - 包装底层 pool.Store (通常是 GormStore)，底层是唯一真相
// - 写: 先写底层，成功后写穿 Redis；缓存失败只记日志
// - 续期: 底层续期后对同一批 key 执行 EXPIRE
// - 读: Position / Balance / Shares 供查询服务使用，miss 返回 found=false
//
//	levpool:params
//	levpool:pool
//	levpool:shares:{lp}
//	levpool:balance:{user}:{asset}
//	levpool:config:{token}
//	levpool:position:{user}
//	levpool:reserve:{asset}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"levpool.com/pkg/account"
	"levpool.com/pkg/pool"
)

// 确保实现了接口
var _ pool.Store = (*RedisStore)(nil)

const (
	cacheKeyPrefix = "levpool:"

	// DefaultLedgerInterval 一个账本的大致时长，用于把保留期换算成 TTL
	DefaultLedgerInterval = 5 * time.Second
)

// RedisStore Redis 写穿缓存
type RedisStore struct {
	inner pool.Store
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

// NewRedisStore 创建缓存层，ledgerInterval <= 0 时使用默认值
func NewRedisStore(inner pool.Store, rdb *redis.Client, ledgerInterval time.Duration, logger *zap.Logger) *RedisStore {
	if ledgerInterval <= 0 {
		ledgerInterval = DefaultLedgerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		inner: inner,
		rdb:   rdb,
		ttl:   time.Duration(pool.RetentionBump) * ledgerInterval,
		log:   logger.Named("redis-store"),
	}
}

// CacheKey 记录对应的 Redis key
func CacheKey(k pool.RecordKey) string {
	switch k.Kind {
	case pool.RecordParams, pool.RecordPool:
		return cacheKeyPrefix + k.Kind.String()
	case pool.RecordShares, pool.RecordPosition:
		return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, k.Kind, k.User)
	case pool.RecordBalance:
		return fmt.Sprintf("%s%s:%s:%s", cacheKeyPrefix, k.Kind, k.User, k.Asset)
	default:
		return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, k.Kind, k.Asset)
	}
}

// =============================================================================
// pool.Store
// =============================================================================

// Load 从底层加载并预热缓存
func (s *RedisStore) Load(ctx context.Context) (*pool.ChangeSet, error) {
	cs, err := s.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.writeThrough(ctx, cs); err != nil {
		s.log.Warn("[RedisStore] warm cache failed", zap.Error(err))
	}
	return cs, nil
}

// Apply 先写底层再写缓存
func (s *RedisStore) Apply(ctx context.Context, cs *pool.ChangeSet) error {
	if err := s.inner.Apply(ctx, cs); err != nil {
		return err
	}
	if err := s.writeThrough(ctx, cs); err != nil {
		s.log.Warn("[RedisStore] write-through failed",
			zap.Uint64("sequence", cs.Sequence), zap.Error(err))
	}
	return nil
}

// Touch 先续期底层再续期缓存
func (s *RedisStore) Touch(ctx context.Context, seq uint64, keys ...pool.RecordKey) error {
	if err := s.inner.Touch(ctx, seq, keys...); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Expire(ctx, CacheKey(k), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("[RedisStore] expire failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
	return nil
}

func (s *RedisStore) writeThrough(ctx context.Context, cs *pool.ChangeSet) error {
	pipe := s.rdb.TxPipeline()

	set := func(k pool.RecordKey, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		pipe.Set(ctx, CacheKey(k), data, s.ttl)
		return nil
	}

	if cs.Params != nil {
		if err := set(pool.RecordKey{Kind: pool.RecordParams}, cs.Params); err != nil {
			return err
		}
	}
	if cs.Pool != nil {
		if err := set(pool.RecordKey{Kind: pool.RecordPool}, cs.Pool); err != nil {
			return err
		}
	}
	for lp, v := range cs.Shares {
		pipe.Set(ctx, CacheKey(pool.RecordKey{Kind: pool.RecordShares, User: lp}), v, s.ttl)
	}
	for k, v := range cs.Balances {
		pipe.Set(ctx, CacheKey(pool.RecordKey{Kind: pool.RecordBalance, User: k.User, Asset: k.Asset}), v, s.ttl)
	}
	for token, c := range cs.Configs {
		if err := set(pool.RecordKey{Kind: pool.RecordConfig, Asset: token}, c); err != nil {
			return err
		}
	}
	for user, p := range cs.Positions {
		k := pool.RecordKey{Kind: pool.RecordPosition, User: user}
		if p == nil {
			pipe.Del(ctx, CacheKey(k))
			continue
		}
		if err := set(k, p); err != nil {
			return err
		}
	}
	for a, v := range cs.Reserves {
		pipe.Set(ctx, CacheKey(pool.RecordKey{Kind: pool.RecordReserve, Asset: a}), v, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// =============================================================================
// 缓存读
// =============================================================================

// Position 读缓存中的仓位
func (s *RedisStore) Position(ctx context.Context, user account.Address) (*pool.Position, bool, error) {
	data, err := s.rdb.Get(ctx, CacheKey(pool.RecordKey{Kind: pool.RecordPosition, User: user})).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get position %s: %w", user, err)
	}
	var p pool.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("decode position %s: %w", user, err)
	}
	return &p, true, nil
}

// Balance 读缓存中的可用保证金
func (s *RedisStore) Balance(ctx context.Context, user, asset account.Address) (int64, bool, error) {
	return s.getInt(ctx, pool.RecordKey{Kind: pool.RecordBalance, User: user, Asset: asset})
}

// Shares 读缓存中的 LP 份额
func (s *RedisStore) Shares(ctx context.Context, lp account.Address) (int64, bool, error) {
	return s.getInt(ctx, pool.RecordKey{Kind: pool.RecordShares, User: lp})
}

// TTL 缓存剩余时间
func (s *RedisStore) TTL(ctx context.Context, k pool.RecordKey) (time.Duration, error) {
	return s.rdb.TTL(ctx, CacheKey(k)).Result()
}

func (s *RedisStore) getInt(ctx context.Context, k pool.RecordKey) (int64, bool, error) {
	v, err := s.rdb.Get(ctx, CacheKey(k)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", CacheKey(k), err)
	}
	return v, true, nil
}
