// 文件: pkg/oracle/ticker.go
// 模拟报价生成器
//
// 几何布朗运动 (无漂移):
//
//	S_new = S * exp(-0.5*σ²*dt + σ*sqrt(dt)*Z),  Z ~ N(0,1), dt 以年计
//
// 生成的价格按 PriceScale 取整后写入 PriceSink，最低为 1

package oracle

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultVolatility 年化波动率
const DefaultVolatility = 0.5

// Ticker 单个 key 的模拟报价
type Ticker struct {
	key        string
	interval   time.Duration
	volatility float64
	sink       PriceSink
	log        *zap.Logger

	price atomic.Int64

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewTicker 创建生成器，start 为初始价格 (PriceScale 精度)
func NewTicker(key string, start int64, interval time.Duration, sink PriceSink, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Ticker{
		key:        key,
		interval:   interval,
		volatility: DefaultVolatility,
		sink:       sink,
		log:        logger.Named("ticker"),
		stopCh:     make(chan struct{}),
	}
	t.price.Store(max(start, 1))
	return t
}

// WithVolatility 设置年化波动率 (Start 之前调用)
func (t *Ticker) WithVolatility(v float64) *Ticker {
	t.volatility = v
	return t
}

// Price 最近一次生成的价格
func (t *Ticker) Price() int64 { return t.price.Load() }

// Start 后台生成报价，ctx 结束或 Stop 后退出
func (t *Ticker) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.loop(ctx)
}

// Stop 停止并等待退出
func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	last := time.Now()
	price := float64(t.price.Load())

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Hours() / 24 / 365
			if dt <= 0 {
				dt = 1e-9
			}
			last = now

			sigma := t.volatility
			price *= math.Exp(-0.5*sigma*sigma*dt + sigma*math.Sqrt(dt)*r.NormFloat64())
			p := max(int64(math.Round(price)), 1)
			t.price.Store(p)

			if err := t.sink.SetPrice(ctx, t.key, p, uint64(now.Unix())); err != nil {
				t.log.Warn("[Ticker] set price failed", zap.String("key", t.key), zap.Error(err))
			}
		}
	}
}
