// 文件: pkg/oracle/feed.go
// 内存报价源
//
// 价格由外部推送 (NATS 行情订阅 / 模拟器)，引擎按 key 读取最近一次报价

package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"levpool.com/pkg/pool"
)

var (
	ErrInvalidPrice = errors.New("price must be positive")
	ErrEmptyKey     = errors.New("empty price feed key")
)

// 确保实现了接口
var _ pool.PriceOracle = (*Feed)(nil)

// PriceSink 可写入报价的价格源
type PriceSink interface {
	SetPrice(ctx context.Context, key string, price int64, ts uint64) error
}

// Feed 内存报价源
type Feed struct {
	mu     sync.RWMutex
	prices map[string]pool.PriceData

	// 价格更新回调 (在写锁外调用)
	onUpdate func(key string, p pool.PriceData)
}

// NewFeed 创建报价源
func NewFeed() *Feed {
	return &Feed{prices: make(map[string]pool.PriceData)}
}

// OnUpdate 注册价格更新回调
func (f *Feed) OnUpdate(fn func(key string, p pool.PriceData)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = fn
}

// SetPrice 更新报价，ts 为 0 时取当前时间
func (f *Feed) SetPrice(ctx context.Context, key string, price int64, ts uint64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if price <= 0 {
		return fmt.Errorf("%w: %s=%d", ErrInvalidPrice, key, price)
	}
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}
	p := pool.PriceData{Price: price, Timestamp: ts}

	f.mu.Lock()
	f.prices[key] = p
	cb := f.onUpdate
	f.mu.Unlock()

	if cb != nil {
		cb(key, p)
	}
	return nil
}

// Remove 删除报价 (之后 LastPrice 返回 ok=false)
func (f *Feed) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, key)
}

// LastPrice 实现 pool.PriceOracle
func (f *Feed) LastPrice(ctx context.Context, key string) (pool.PriceData, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[key]
	return p, ok, nil
}
