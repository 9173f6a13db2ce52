// 文件: pkg/alert/watcher.go
// 预警检查: 消费报价更新，对比上一次报价，命中规则后推送通知

package alert

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"levpool.com/pkg/account"
	lpnats "levpool.com/pkg/nats"
	"levpool.com/pkg/oracle"
)

// SubjectPrefix 通知主题前缀，完整主题为 levpool.alerts.{user}
const SubjectPrefix = "levpool.alerts."

// Subject 用户通知主题
func Subject(user account.Address) string { return SubjectPrefix + user.String() }

// Notification 一条触发通知
type Notification struct {
	Rule      Rule   `json:"rule"`
	Price     int64  `json:"price"`
	Timestamp uint64 `json:"ts"`
}

// Notifier 通知下发
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc 函数适配
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify 实现 Notifier
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// NatsNotifier 通知发布到用户主题
type NatsNotifier struct {
	pub *lpnats.Publisher
}

// NewNatsNotifier 创建 NATS 通知
func NewNatsNotifier(pub *lpnats.Publisher) *NatsNotifier {
	return &NatsNotifier{pub: pub}
}

// Notify 实现 Notifier
func (n *NatsNotifier) Notify(_ context.Context, note Notification) error {
	return n.pub.Publish(Subject(note.Rule.User), note)
}

// WatcherStats 统计
type WatcherStats struct {
	Updates  int64
	Notified int64
	Errors   int64
}

// Watcher 预警检查器
type Watcher struct {
	mgr    Manager
	notify Notifier
	log    *zap.Logger

	mu   sync.Mutex
	last map[string]int64 // feed key -> 上一次报价

	updates  atomic.Int64
	notified atomic.Int64
	errors   atomic.Int64
}

// NewWatcher 创建检查器
func NewWatcher(mgr Manager, notifier Notifier, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		mgr:    mgr,
		notify: notifier,
		log:    logger.Named("alert"),
		last:   make(map[string]int64),
	}
}

// Run 消费报价直到通道关闭或 ctx 结束
func (w *Watcher) Run(ctx context.Context, updates <-chan oracle.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			w.Handle(ctx, u)
		}
	}
}

// Handle 处理一条报价；某个 key 的首条报价只记录不触发
func (w *Watcher) Handle(ctx context.Context, u oracle.Update) {
	w.updates.Add(1)
	current := u.Price.Price

	w.mu.Lock()
	last, seen := w.last[u.Key]
	w.last[u.Key] = current
	w.mu.Unlock()
	if !seen {
		return
	}

	rules, err := w.mgr.Triggered(ctx, u.Key, current, last)
	if err != nil {
		w.errors.Add(1)
		w.log.Warn("[Alert] query failed", zap.String("feed", u.Key), zap.Error(err))
		return
	}
	for _, r := range rules {
		n := Notification{Rule: r, Price: current, Timestamp: u.Price.Timestamp}
		if err := w.notify.Notify(ctx, n); err != nil {
			w.errors.Add(1)
			w.log.Warn("[Alert] notify failed", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		w.notified.Add(1)
		w.log.Info("[Alert] 🔔 triggered",
			zap.String("id", r.ID),
			zap.String("user", r.User.String()),
			zap.String("feed", u.Key),
			zap.String("direction", string(r.Direction)),
			zap.Int64("level", r.Price),
			zap.Int64("price", current))
	}
}

// Stats 统计快照
func (w *Watcher) Stats() WatcherStats {
	return WatcherStats{
		Updates:  w.updates.Load(),
		Notified: w.notified.Load(),
		Errors:   w.errors.Load(),
	}
}
