// 文件: pkg/oracle/broadcaster.go
// 报价广播器 (Fan-out)
//
//	      Feed.SetPrice
//	            |
//	            v
//	     [Broadcaster]
//	       /    |    \
//	      v     v     v
//	   守护进程  预警   ...
//
// 一个订阅者处理慢不能影响其他订阅者: 通道满时丢弃该订阅者的这条报价

package oracle

import (
	"sync"
	"sync/atomic"

	"levpool.com/pkg/pool"
)

// DefaultSubscriberBuffer 订阅通道默认缓冲
const DefaultSubscriberBuffer = 256

// Update 一条报价更新
type Update struct {
	Key   string
	Price pool.PriceData
}

// Broadcaster 报价广播器
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan Update
	closed      bool

	dropped atomic.Int64
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe 订阅报价，buf <= 0 时使用默认缓冲；广播器关闭后返回已关闭的通道
func (b *Broadcaster) Subscribe(buf int) <-chan Update {
	if buf <= 0 {
		buf = DefaultSubscriberBuffer
	}
	ch := make(chan Update, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Broadcast 分发报价 (签名与 Feed.OnUpdate 回调一致)
func (b *Broadcaster) Broadcast(key string, p pool.PriceData) {
	u := Update{Key: key, Price: p}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 因订阅者通道满而丢弃的报价数
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Close 关闭全部订阅通道，可重复调用
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
