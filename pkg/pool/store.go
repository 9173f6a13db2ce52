// 文件: pkg/pool/store.go
// 持久化接口与变更集
//
// 引擎每次操作产生一个 ChangeSet，提交时整体写入 Store；
// Store 必须保证一个 ChangeSet 要么全部写入，要么都不写入

package pool

import (
	"context"
	"maps"
	"sync"

	"levpool.com/pkg/account"
)

// RecordKind 记录类型
type RecordKind uint8

const (
	RecordParams RecordKind = iota + 1
	RecordPool
	RecordShares
	RecordBalance
	RecordConfig
	RecordPosition
	RecordReserve
)

func (k RecordKind) String() string {
	switch k {
	case RecordParams:
		return "params"
	case RecordPool:
		return "pool"
	case RecordShares:
		return "shares"
	case RecordBalance:
		return "balance"
	case RecordConfig:
		return "config"
	case RecordPosition:
		return "position"
	case RecordReserve:
		return "reserve"
	}
	return "unknown"
}

// RecordKey 记录键 (用于保留期续期)
type RecordKey struct {
	Kind  RecordKind
	User  account.Address // shares / balance / position
	Asset account.Address // balance / config / reserve
}

// ChangeSet 一次操作的全部写入
//
// Positions 中 value 为 nil 表示删除
type ChangeSet struct {
	Sequence  uint64 // 提交时的账本序号
	Params    *Params
	Pool      *PoolState
	Shares    map[account.Address]int64
	Balances  map[BalanceKey]int64
	Configs   map[account.Address]CollateralConfig
	Positions map[account.Address]*Position
	Reserves  map[account.Address]int64
}

// NewChangeSet 创建空变更集
func NewChangeSet(seq uint64) *ChangeSet {
	return &ChangeSet{
		Sequence:  seq,
		Shares:    make(map[account.Address]int64),
		Balances:  make(map[BalanceKey]int64),
		Configs:   make(map[account.Address]CollateralConfig),
		Positions: make(map[account.Address]*Position),
		Reserves:  make(map[account.Address]int64),
	}
}

// Empty 是否没有任何写入
func (cs *ChangeSet) Empty() bool {
	return cs.Params == nil && cs.Pool == nil &&
		len(cs.Shares) == 0 && len(cs.Balances) == 0 && len(cs.Configs) == 0 &&
		len(cs.Positions) == 0 && len(cs.Reserves) == 0
}

// Keys 变更涉及的记录键
func (cs *ChangeSet) Keys() []RecordKey {
	var keys []RecordKey
	if cs.Params != nil {
		keys = append(keys, RecordKey{Kind: RecordParams})
	}
	if cs.Pool != nil {
		keys = append(keys, RecordKey{Kind: RecordPool})
	}
	for u := range cs.Shares {
		keys = append(keys, RecordKey{Kind: RecordShares, User: u})
	}
	for k := range cs.Balances {
		keys = append(keys, RecordKey{Kind: RecordBalance, User: k.User, Asset: k.Asset})
	}
	for a := range cs.Configs {
		keys = append(keys, RecordKey{Kind: RecordConfig, Asset: a})
	}
	for u := range cs.Positions {
		keys = append(keys, RecordKey{Kind: RecordPosition, User: u})
	}
	for a := range cs.Reserves {
		keys = append(keys, RecordKey{Kind: RecordReserve, Asset: a})
	}
	return keys
}

// Clone 深拷贝
func (cs *ChangeSet) Clone() *ChangeSet {
	out := NewChangeSet(cs.Sequence)
	if cs.Params != nil {
		p := *cs.Params
		out.Params = &p
	}
	if cs.Pool != nil {
		p := *cs.Pool
		out.Pool = &p
	}
	maps.Copy(out.Shares, cs.Shares)
	maps.Copy(out.Balances, cs.Balances)
	maps.Copy(out.Configs, cs.Configs)
	maps.Copy(out.Reserves, cs.Reserves)
	for u, p := range cs.Positions {
		out.Positions[u] = p.Clone()
	}
	return out
}

// Store 持久化接口
type Store interface {
	// Load 读取全部记录 (Positions 中不含 nil)
	Load(ctx context.Context) (*ChangeSet, error)

	// Apply 原子写入变更集，并把涉及记录的保留期续到 cs.Sequence + RetentionBump
	Apply(ctx context.Context, cs *ChangeSet) error

	// Touch 续期被读取的记录
	Touch(ctx context.Context, seq uint64, keys ...RecordKey) error
}

// =============================================================================
// MemStore 内存实现
// =============================================================================

// MemStore 内存 Store (测试 / 单机模拟)
type MemStore struct {
	mu     sync.Mutex
	data   *ChangeSet
	retain map[RecordKey]uint64

	// FailApply 非 nil 时 Apply 返回该错误 (测试用)
	FailApply error
}

// NewMemStore 创建内存 Store
func NewMemStore() *MemStore {
	return &MemStore{
		data:   NewChangeSet(0),
		retain: make(map[RecordKey]uint64),
	}
}

// Load 实现 Store
func (m *MemStore) Load(ctx context.Context) (*ChangeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone(), nil
}

// Apply 实现 Store
func (m *MemStore) Apply(ctx context.Context, cs *ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailApply != nil {
		return m.FailApply
	}

	if cs.Params != nil {
		p := *cs.Params
		m.data.Params = &p
	}
	if cs.Pool != nil {
		p := *cs.Pool
		m.data.Pool = &p
	}
	maps.Copy(m.data.Shares, cs.Shares)
	maps.Copy(m.data.Balances, cs.Balances)
	maps.Copy(m.data.Configs, cs.Configs)
	maps.Copy(m.data.Reserves, cs.Reserves)
	for u, p := range cs.Positions {
		if p == nil {
			delete(m.data.Positions, u)
			continue
		}
		m.data.Positions[u] = p.Clone()
	}
	m.data.Sequence = cs.Sequence

	for _, k := range cs.Keys() {
		m.retain[k] = cs.Sequence + RetentionBump
	}
	return nil
}

// Touch 实现 Store
func (m *MemStore) Touch(ctx context.Context, seq uint64, keys ...RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if until := seq + RetentionBump; until > m.retain[k] {
			m.retain[k] = until
		}
	}
	return nil
}

// RetainUntil 记录保留到的账本序号 (0 表示从未写入或读取)
func (m *MemStore) RetainUntil(k RecordKey) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retain[k]
}
