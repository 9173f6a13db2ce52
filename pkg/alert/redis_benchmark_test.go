package alert

import (
	"context"
	"fmt"
	"testing"
)

// BenchmarkRedisSubscribe 订阅
func BenchmarkRedisSubscribe(b *testing.B) {
	m := setupRedis(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Subscribe(ctx, Rule{
			ID: fmt.Sprintf("bench_%d", i), User: "alice", FeedKey: "XLM",
			Direction: Below, Price: 6_500_000, Type: AlertOnce,
		})
	}
}

// BenchmarkRedisTriggered 惊群: 10000 个用户在同一价位设置预警
func BenchmarkRedisTriggered(b *testing.B) {
	m := setupRedis(b)
	ctx := context.Background()

	rules := make([]Rule, 10_000)
	for i := range rules {
		rules[i] = Rule{
			ID: fmt.Sprintf("herd_%d", i), User: "alice", FeedKey: "XLM",
			Direction: Below, Price: 6_500_000, Type: AlertOnce,
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, r := range rules {
			_ = m.Subscribe(ctx, r)
		}
		b.StartTimer()

		if _, err := m.Triggered(ctx, "XLM", 6_000_000, 7_000_000); err != nil {
			b.Fatal(err)
		}
	}
}
