// 文件: pkg/asset/asset.go
// 同质化资产账本
//
// 每个账户持有多种资产的余额；转账要求付款方签名，余额不足时整体失败

package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"levpool.com/pkg/account"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnauthorized        = errors.New("transfer not authorized by sender")
	ErrSupplyOverflow      = errors.New("asset supply overflow")
)

// =============================================================================
// Models
// =============================================================================

// Account 一个地址的全部资产余额
type Account struct {
	Owner    account.Address
	Balances map[account.Address]int64 // Asset -> Amount
	mu       sync.Mutex
}

// NewAccount 创建新账户
func NewAccount(owner account.Address) *Account {
	return &Account{
		Owner:    owner,
		Balances: make(map[account.Address]int64),
	}
}

// Balance 获取指定资产的余额 (线程安全)
func (a *Account) Balance(asset account.Address) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Balances[asset]
}

// =============================================================================
// Ledger
// =============================================================================

// Ledger 资产账本
type Ledger struct {
	accounts map[account.Address]*Account
	supply   map[account.Address]int64
	mu       sync.RWMutex
}

// NewLedger 创建账本
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[account.Address]*Account),
		supply:   make(map[account.Address]int64),
	}
}

// GetAccount 获取账户 (如果不存在则创建)
func (l *Ledger) GetAccount(owner account.Address) *Account {
	l.mu.RLock()
	acc, ok := l.accounts[owner]
	l.mu.RUnlock()

	if ok {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double check
	if acc, ok = l.accounts[owner]; ok {
		return acc
	}
	acc = NewAccount(owner)
	l.accounts[owner] = acc
	return acc
}

// Mint 发行资产到 to (模拟链上充值 / 测试注资)
func (l *Ledger) Mint(asset, to account.Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	if l.supply[asset] > maxInt64-amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSupplyOverflow, asset)
	}
	l.supply[asset] += amount
	l.mu.Unlock()

	acc := l.GetAccount(to)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.Balances[asset] += amount
	return nil
}

// Transfer 转账 (原子操作)
//
// from 必须签名了 ctx 对应的调用
func (l *Ledger) Transfer(ctx context.Context, asset, from, to account.Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := account.Require(ctx, from); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	fromAcc := l.GetAccount(from)
	if from == to {
		fromAcc.mu.Lock()
		defer fromAcc.mu.Unlock()
		if fromAcc.Balances[asset] < amount {
			return ErrInsufficientBalance
		}
		return nil
	}
	toAcc := l.GetAccount(to)

	// 防止死锁：按地址顺序加锁
	if from < to {
		fromAcc.mu.Lock()
		toAcc.mu.Lock()
	} else {
		toAcc.mu.Lock()
		fromAcc.mu.Lock()
	}
	defer fromAcc.mu.Unlock()
	defer toAcc.mu.Unlock()

	if fromAcc.Balances[asset] < amount {
		return fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientBalance, from, fromAcc.Balances[asset], asset, amount)
	}

	fromAcc.Balances[asset] -= amount
	toAcc.Balances[asset] += amount
	return nil
}

// BalanceOf 查询余额
func (l *Ledger) BalanceOf(asset, owner account.Address) int64 {
	l.mu.RLock()
	acc, ok := l.accounts[owner]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return acc.Balance(asset)
}

// TotalSupply 资产总发行量
func (l *Ledger) TotalSupply(asset account.Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[asset]
}

const maxInt64 = 1<<63 - 1
