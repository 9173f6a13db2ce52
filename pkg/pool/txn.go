// 文件: pkg/pool/txn.go
// 操作事务
//
// 一次操作内的所有读写都走 txn:
// - 写入先落到 ChangeSet，不改动已提交状态
// - 外部转账先登记，提交时按顺序执行，失败时逆序补偿
// - 全部成功后 ChangeSet 才写入 Store 与内存

package pool

import (
	"context"
	"fmt"
	"maps"

	"levpool.com/pkg/account"
)

// state 已提交状态 (只由执行循环访问)
type state struct {
	params    *Params
	pool      PoolState
	shares    map[account.Address]int64
	balances  map[BalanceKey]int64
	configs   map[account.Address]CollateralConfig
	positions map[account.Address]*Position
	reserves  map[account.Address]int64
}

func newState() *state {
	return &state{
		shares:    make(map[account.Address]int64),
		balances:  make(map[BalanceKey]int64),
		configs:   make(map[account.Address]CollateralConfig),
		positions: make(map[account.Address]*Position),
		reserves:  make(map[account.Address]int64),
	}
}

// apply 合并变更集
func (s *state) apply(cs *ChangeSet) {
	if cs.Params != nil {
		p := *cs.Params
		s.params = &p
	}
	if cs.Pool != nil {
		s.pool = *cs.Pool
	}
	maps.Copy(s.shares, cs.Shares)
	maps.Copy(s.balances, cs.Balances)
	maps.Copy(s.configs, cs.Configs)
	maps.Copy(s.reserves, cs.Reserves)
	for u, p := range cs.Positions {
		if p == nil {
			delete(s.positions, u)
			continue
		}
		s.positions[u] = p.Clone()
	}
}

// transfer 待执行的外部转账
type transfer struct {
	asset    account.Address
	from, to account.Address
	amount   int64
}

// txn 操作事务
type txn struct {
	base      *state
	cs        *ChangeSet
	transfers []transfer
	events    []Event
	reads     []RecordKey
}

func newTxn(base *state, seq uint64) *txn {
	return &txn{base: base, cs: NewChangeSet(seq)}
}

func (t *txn) now() uint64 { return t.cs.Sequence }

// ===== 读 =====

func (t *txn) params() (*Params, error) {
	if t.cs.Params != nil {
		return t.cs.Params, nil
	}
	if t.base.params == nil {
		return nil, ErrNotInitialized
	}
	t.read(RecordKey{Kind: RecordParams})
	return t.base.params, nil
}

func (t *txn) pool() PoolState {
	if t.cs.Pool != nil {
		return *t.cs.Pool
	}
	t.read(RecordKey{Kind: RecordPool})
	return t.base.pool
}

func (t *txn) shares(lp account.Address) int64 {
	if v, ok := t.cs.Shares[lp]; ok {
		return v
	}
	t.read(RecordKey{Kind: RecordShares, User: lp})
	return t.base.shares[lp]
}

func (t *txn) balance(user, asset account.Address) int64 {
	k := BalanceKey{User: user, Asset: asset}
	if v, ok := t.cs.Balances[k]; ok {
		return v
	}
	t.read(RecordKey{Kind: RecordBalance, User: user, Asset: asset})
	return t.base.balances[k]
}

func (t *txn) config(token account.Address) (CollateralConfig, bool) {
	if v, ok := t.cs.Configs[token]; ok {
		return v, true
	}
	v, ok := t.base.configs[token]
	if ok {
		t.read(RecordKey{Kind: RecordConfig, Asset: token})
	}
	return v, ok
}

// position 返回仓位副本，不存在返回 nil
func (t *txn) position(user account.Address) *Position {
	if p, ok := t.cs.Positions[user]; ok {
		return p.Clone()
	}
	p, ok := t.base.positions[user]
	if !ok {
		return nil
	}
	t.read(RecordKey{Kind: RecordPosition, User: user})
	return p.Clone()
}

func (t *txn) reserve(asset account.Address) int64 {
	if v, ok := t.cs.Reserves[asset]; ok {
		return v
	}
	t.read(RecordKey{Kind: RecordReserve, Asset: asset})
	return t.base.reserves[asset]
}

func (t *txn) read(k RecordKey) { t.reads = append(t.reads, k) }

// ===== 写 =====

func (t *txn) setParams(p Params) { t.cs.Params = &p }

func (t *txn) setPool(p PoolState) { t.cs.Pool = &p }

func (t *txn) setShares(lp account.Address, v int64) { t.cs.Shares[lp] = v }

func (t *txn) setBalance(user, asset account.Address, v int64) {
	t.cs.Balances[BalanceKey{User: user, Asset: asset}] = v
}

func (t *txn) setConfig(token account.Address, c CollateralConfig) { t.cs.Configs[token] = c }

func (t *txn) setPosition(p *Position) { t.cs.Positions[p.User] = p.Clone() }

func (t *txn) deletePosition(user account.Address) { t.cs.Positions[user] = nil }

func (t *txn) addReserve(asset account.Address, delta int64) {
	if delta == 0 {
		return
	}
	t.cs.Reserves[asset] = t.reserve(asset) + delta
}

// move 登记一笔外部转账
func (t *txn) move(asset, from, to account.Address, amount int64) {
	if amount <= 0 {
		return
	}
	t.transfers = append(t.transfers, transfer{asset: asset, from: from, to: to, amount: amount})
}

func (t *txn) emit(ev Event) {
	ev.Sequence = t.now()
	t.events = append(t.events, ev)
}

// =============================================================================
// 提交
// =============================================================================

// executeTransfers 按顺序执行转账，第 k 笔失败时逆序补偿前 k-1 笔
//
// 补偿在同一次操作内进行，等价于账本层的事务回滚，因此以双方签名执行
func executeTransfers(ctx context.Context, assets AssetTransfer, custody account.Address, ts []transfer) (done int, err error) {
	for i, tr := range ts {
		callCtx := ctx
		if tr.from == custody {
			callCtx = account.WithSigners(ctx, custody)
		}
		if err := assets.Transfer(callCtx, tr.asset, tr.from, tr.to, tr.amount); err != nil {
			return i, fmt.Errorf("transfer %d %s %s->%s: %w", tr.amount, tr.asset, tr.from, tr.to, err)
		}
	}
	return len(ts), nil
}

// compensate 逆序撤销已执行的转账，返回补偿失败的错误 (只用于日志)
func compensate(ctx context.Context, assets AssetTransfer, ts []transfer) []error {
	var errs []error
	for i := len(ts) - 1; i >= 0; i-- {
		tr := ts[i]
		revCtx := account.WithSigners(ctx, tr.to)
		if err := assets.Transfer(revCtx, tr.asset, tr.to, tr.from, tr.amount); err != nil {
			errs = append(errs, fmt.Errorf("compensate %d %s %s->%s: %w", tr.amount, tr.asset, tr.to, tr.from, err))
		}
	}
	return errs
}
