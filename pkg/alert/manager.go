// 文件: pkg/alert/manager.go
// 内存版预警存储 (单机 / 测试)

package alert

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Manager = (*MemoryManager)(nil)

// MemoryManager 内存版预警存储
type MemoryManager struct {
	mu        sync.Mutex
	rules     map[string]Rule      // key: ID
	triggered map[string]time.Time // 上次触发时间
	now       func() time.Time
}

// NewMemoryManager 创建内存版存储
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		rules:     make(map[string]Rule),
		triggered: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Subscribe 新增或覆盖规则
func (m *MemoryManager) Subscribe(_ context.Context, rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt == 0 {
		rule.CreatedAt = m.now().Unix()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	delete(m.triggered, rule.ID)
	return nil
}

// Unsubscribe 删除规则
func (m *MemoryManager) Unsubscribe(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	delete(m.triggered, id)
	return nil
}

// Triggered 实现 Manager，结果按 ID 排序
func (m *MemoryManager) Triggered(_ context.Context, feedKey string, current, last int64) ([]Rule, error) {
	dir, moved := directionOf(current, last)
	if !moved {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Rule
	for id, rule := range m.rules {
		if rule.FeedKey != feedKey || rule.Direction != dir || !rule.crossed(current) {
			continue
		}
		switch rule.Type {
		case AlertOnce:
			delete(m.rules, id)
		default:
			if at, ok := m.triggered[id]; ok && now.Sub(at) < rule.Type.Cooldown() {
				continue
			}
			m.triggered[id] = now
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len 规则数
func (m *MemoryManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rules)
}
