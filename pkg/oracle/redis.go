// 文件: pkg/oracle/redis.go
// Redis 报价源
//
// 多个引擎实例共享同一份报价: 行情服务写 Hash，引擎读 Hash
//
//	oracle:price:{key} -> {price, ts}

package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"levpool.com/pkg/pool"
)

var _ pool.PriceOracle = (*RedisFeed)(nil)
var _ PriceSink = (*RedisFeed)(nil)

const redisPriceKey = "oracle:price:%s"

// RedisFeed Redis 报价源
type RedisFeed struct {
	rdb *redis.Client
	ttl time.Duration // 报价过期时间，0 不过期
}

// NewRedisFeed 创建 Redis 报价源
func NewRedisFeed(rdb *redis.Client, ttl time.Duration) *RedisFeed {
	return &RedisFeed{rdb: rdb, ttl: ttl}
}

// SetPrice 写入报价
func (f *RedisFeed) SetPrice(ctx context.Context, key string, price int64, ts uint64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if price <= 0 {
		return fmt.Errorf("%w: %s=%d", ErrInvalidPrice, key, price)
	}
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}

	k := fmt.Sprintf(redisPriceKey, key)
	pipe := f.rdb.TxPipeline()
	pipe.HSet(ctx, k, "price", price, "ts", ts)
	if f.ttl > 0 {
		pipe.Expire(ctx, k, f.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set price %s: %w", key, err)
	}
	return nil
}

// LastPrice 实现 pool.PriceOracle
func (f *RedisFeed) LastPrice(ctx context.Context, key string) (pool.PriceData, bool, error) {
	vals, err := f.rdb.HMGet(ctx, fmt.Sprintf(redisPriceKey, key), "price", "ts").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pool.PriceData{}, false, nil
		}
		return pool.PriceData{}, false, fmt.Errorf("redis get price %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return pool.PriceData{}, false, nil
	}

	price, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return pool.PriceData{}, false, fmt.Errorf("parse price %s: %w", key, err)
	}
	var ts uint64
	if vals[1] != nil {
		ts, _ = strconv.ParseUint(fmt.Sprint(vals[1]), 10, 64)
	}
	return pool.PriceData{Price: price, Timestamp: ts}, true, nil
}
