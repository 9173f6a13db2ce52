package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/pool"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	fast := b.Subscribe(4)
	slow := b.Subscribe(1)

	f := NewFeed()
	f.OnUpdate(b.Broadcast)
	ctx := context.Background()
	require.NoError(t, f.SetPrice(ctx, "XLM", 1_000_000, 1))
	require.NoError(t, f.SetPrice(ctx, "XLM", 1_100_000, 2))

	// 慢订阅者只缓冲了第一条，第二条被丢弃，不影响快订阅者
	assert.Equal(t, Update{Key: "XLM", Price: pool.PriceData{Price: 1_000_000, Timestamp: 1}}, <-fast)
	assert.Equal(t, int64(1_100_000), (<-fast).Price.Price)
	assert.Equal(t, int64(1_000_000), (<-slow).Price.Price)
	assert.Equal(t, int64(1), b.Dropped())

	b.Close()
	b.Close()
	_, ok := <-fast
	assert.False(t, ok)

	// 关闭后订阅得到已关闭的通道，广播不再 panic
	late := b.Subscribe(0)
	_, ok = <-late
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Broadcast("XLM", pool.PriceData{Price: 1}) })
}

func TestTicker_WritesPrices(t *testing.T) {
	f := NewFeed()
	tk := NewTicker("XLM", pool.PriceScale, 5*time.Millisecond, f, nil).WithVolatility(2)
	tk.Start(context.Background())

	require.Eventually(t, func() bool {
		_, ok, _ := f.LastPrice(context.Background(), "XLM")
		return ok
	}, time.Second, 5*time.Millisecond)

	tk.Stop()
	tk.Stop()

	p, ok, err := f.LastPrice(context.Background(), "XLM")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Positive(t, p.Price)
	assert.Equal(t, tk.Price(), p.Price)
}

func TestTicker_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := NewTicker("XLM", 0, time.Millisecond, NewFeed(), nil)
	assert.Equal(t, int64(1), tk.Price())
	tk.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		tk.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}
