package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// ManualClock 手动推进的账本时钟
type ManualClock struct {
	seq atomic.Uint64
}

// NewManualClock 创建时钟
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.seq.Store(start)
	return c
}

// Sequence 当前账本序号
func (c *ManualClock) Sequence() uint64 { return c.seq.Load() }

// Advance 推进 n 个账本，返回新序号
func (c *ManualClock) Advance(n uint64) uint64 { return c.seq.Add(n) }

// Set 设置序号
func (c *ManualClock) Set(seq uint64) { c.seq.Store(seq) }

// TickerClock 每隔 interval 推进一个账本
type TickerClock struct {
	ManualClock
	interval time.Duration
	stopCh   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewTickerClock 创建并启动时钟
func NewTickerClock(start uint64, interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c := &TickerClock{interval: interval, stopCh: make(chan struct{})}
	c.seq.Store(start)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.seq.Add(1)
			}
		}
	}()
	return c
}

// Stop 停止推进
func (c *TickerClock) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
