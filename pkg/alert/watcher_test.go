package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/oracle"
	"levpool.com/pkg/pool"
)

type recorder struct {
	mu    sync.Mutex
	notes []Notification
	fail  bool
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	if r.fail {
		return errors.New("push gateway down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func TestWatcher_FeedToNotification(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	require.NoError(t, mgr.Subscribe(ctx, Rule{ID: "liq", User: "alice", FeedKey: "XLM", Direction: Below, Price: 6_500_000, Type: AlertOnce}))

	rec := &recorder{}
	w := NewWatcher(mgr, rec, nil)

	b := oracle.NewBroadcaster()
	feed := oracle.NewFeed()
	feed.OnUpdate(b.Broadcast)

	done := make(chan struct{})
	go func() {
		w.Run(ctx, b.Subscribe(16))
		close(done)
	}()

	// 首条报价只记录
	require.NoError(t, feed.SetPrice(ctx, "XLM", 6_000_000, 1))
	require.NoError(t, feed.SetPrice(ctx, "XLM", 7_000_000, 2))
	require.NoError(t, feed.SetPrice(ctx, "XLM", 6_400_000, 3))
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after broadcaster closed")
	}

	notes := rec.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "liq", notes[0].Rule.ID)
	assert.Equal(t, int64(6_400_000), notes[0].Price)
	assert.Equal(t, uint64(3), notes[0].Timestamp)
	assert.Equal(t, WatcherStats{Updates: 3, Notified: 1}, w.Stats())
}

func TestWatcher_NotifyFailure(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	require.NoError(t, mgr.Subscribe(ctx, Rule{ID: "up", User: "bob", FeedKey: "BTC", Direction: Above, Price: 100, Type: AlertOnce}))

	w := NewWatcher(mgr, &recorder{fail: true}, nil)
	w.Handle(ctx, oracle.Update{Key: "BTC", Price: pool.PriceData{Price: 90}})
	w.Handle(ctx, oracle.Update{Key: "BTC", Price: pool.PriceData{Price: 110}})
	assert.Equal(t, WatcherStats{Updates: 2, Errors: 1}, w.Stats())
}

func TestNotifierFunc(t *testing.T) {
	var got Notification
	n := NotifierFunc(func(_ context.Context, note Notification) error {
		got = note
		return nil
	})
	require.NoError(t, n.Notify(context.Background(), Notification{Price: 5}))
	assert.Equal(t, int64(5), got.Price)
	assert.Equal(t, "levpool.alerts.alice", Subject("alice"))
}
