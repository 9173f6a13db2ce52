package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

// checkDirections 两种存储共用的方向与一次性语义
func checkDirections(t *testing.T, m Manager) {
	t.Helper()
	ctx := context.Background()

	for _, r := range []Rule{
		{ID: "up", User: "alice", FeedKey: "XLM", Direction: Above, Price: 12_000_000, Type: AlertOnce},
		{ID: "liq", User: "alice", FeedKey: "XLM", Direction: Below, Price: 6_500_000, Type: AlertOnce},
		{ID: "warn", User: "bob", FeedKey: "XLM", Direction: Below, Price: 8_000_000, Type: AlertAlways},
		{ID: "btc", User: "bob", FeedKey: "BTC", Direction: Below, Price: 9_000_000, Type: AlertOnce},
	} {
		require.NoError(t, m.Subscribe(ctx, r))
	}

	// 价格不变不触发
	got, err := m.Triggered(ctx, "XLM", 10_000_000, 10_000_000)
	require.NoError(t, err)
	assert.Empty(t, got)

	// 上涨穿越 1.2
	got, err = m.Triggered(ctx, "XLM", 12_500_000, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, ids(got))
	assert.Equal(t, "alice", got[0].User.String())

	// 下跌到 0.75: 只穿越 0.8
	got, err = m.Triggered(ctx, "XLM", 7_500_000, 12_500_000)
	require.NoError(t, err)
	assert.Equal(t, []string{"warn"}, ids(got))

	// 下跌到 0.6: 0.65 触发，0.8 在冷却中
	got, err = m.Triggered(ctx, "XLM", 6_000_000, 7_500_000)
	require.NoError(t, err)
	assert.Equal(t, []string{"liq"}, ids(got))

	// 一次性规则不再触发
	got, err = m.Triggered(ctx, "XLM", 5_000_000, 6_000_000)
	require.NoError(t, err)
	assert.Empty(t, got)

	// 其他 key 互不影响
	got, err = m.Triggered(ctx, "BTC", 8_000_000, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, []string{"btc"}, ids(got))
}

func TestMemoryManager_Directions(t *testing.T) {
	checkDirections(t, NewMemoryManager())
}

func TestMemoryManager_Cooldown(t *testing.T) {
	m := NewMemoryManager()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, Rule{ID: "d", User: "alice", FeedKey: "XLM", Direction: Below, Price: 8_000_000, Type: AlertDaily}))
	require.NoError(t, m.Subscribe(ctx, Rule{ID: "a", User: "alice", FeedKey: "XLM", Direction: Below, Price: 8_000_000, Type: AlertAlways}))

	got, _ := m.Triggered(ctx, "XLM", 7_000_000, 9_000_000)
	assert.Equal(t, []string{"a", "d"}, ids(got))

	now = now.Add(AlwaysCooldown)
	got, _ = m.Triggered(ctx, "XLM", 7_000_000, 9_000_000)
	assert.Equal(t, []string{"a"}, ids(got))

	now = now.Add(24 * time.Hour)
	got, _ = m.Triggered(ctx, "XLM", 7_000_000, 9_000_000)
	assert.Equal(t, []string{"a", "d"}, ids(got))

	// 重新订阅清除冷却
	require.NoError(t, m.Subscribe(ctx, Rule{ID: "d", User: "alice", FeedKey: "XLM", Direction: Below, Price: 8_000_000, Type: AlertDaily}))
	got, _ = m.Triggered(ctx, "XLM", 7_000_000, 9_000_000)
	assert.Equal(t, []string{"d"}, ids(got))
}

func TestMemoryManager_SubscribeValidation(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()
	valid := Rule{ID: "x", User: "alice", FeedKey: "XLM", Direction: Above, Price: 1, Type: AlertOnce}
	require.NoError(t, valid.Validate())

	bad := map[string]func(r *Rule){
		"no id":      func(r *Rule) { r.ID = "" },
		"colon id":   func(r *Rule) { r.ID = "a:b" },
		"no user":    func(r *Rule) { r.User = "" },
		"no feed":    func(r *Rule) { r.FeedKey = "" },
		"direction":  func(r *Rule) { r.Direction = "sideways" },
		"zero price": func(r *Rule) { r.Price = 0 },
		"type":       func(r *Rule) { r.Type = "weekly" },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			r := valid
			mutate(&r)
			require.ErrorIs(t, m.Subscribe(ctx, r), ErrInvalidRule)
		})
	}
	assert.Zero(t, m.Len())

	require.NoError(t, m.Subscribe(ctx, valid))
	require.NoError(t, m.Unsubscribe(ctx, "x"))
	require.ErrorIs(t, m.Unsubscribe(ctx, "x"), ErrRuleNotFound)
}

func TestAlertType_Cooldown(t *testing.T) {
	assert.Zero(t, AlertOnce.Cooldown())
	assert.Equal(t, 24*time.Hour, AlertDaily.Cooldown())
	assert.Equal(t, AlwaysCooldown, AlertAlways.Cooldown())
}
