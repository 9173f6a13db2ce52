package pool

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"levpool.com/pkg/account"
)

// GetParams 池参数
func (e *Engine) GetParams(ctx context.Context) (Params, error) {
	var out Params
	err := e.query(ctx, func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		out = *p
		return nil
	})
	return out, err
}

// GetPoolStats 池统计
func (e *Engine) GetPoolStats(ctx context.Context) (PoolStats, error) {
	var out PoolStats
	err := e.query(ctx, func(t *txn) error {
		if _, err := t.params(); err != nil {
			return err
		}
		t.pool()
		out = e.stats()
		return nil
	})
	return out, err
}

// GetHealthRatio 仓位当前健康度 (按已记账负债)，无仓位返回 InfiniteHealth
func (e *Engine) GetHealthRatio(ctx context.Context, user account.Address) (int64, error) {
	var health int64
	err := e.query(ctx, func(t *txn) error {
		pos := t.position(user)
		if pos == nil {
			health = InfiniteHealth
			return nil
		}
		cfg, ok := t.config(pos.CollateralToken)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedCollateral, pos.CollateralToken)
		}
		price, err := e.price(ctx, cfg)
		if err != nil {
			return err
		}
		health = ComputeHealth(pos.CollateralAmount, price, cfg.CollateralFactorBps, pos.BorrowedAmount)
		return nil
	})
	return health, err
}

// GetPosition 仓位副本，无仓位返回 (nil, nil)
func (e *Engine) GetPosition(ctx context.Context, user account.Address) (*Position, error) {
	var pos *Position
	err := e.query(ctx, func(t *txn) error {
		pos = t.position(user)
		return nil
	})
	return pos, err
}

// ListPositions 全部仓位 (按用户排序)
func (e *Engine) ListPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := e.query(ctx, func(t *txn) error {
		out = make([]Position, 0, len(t.base.positions))
		for _, p := range t.base.positions {
			out = append(out, *p)
		}
		slices.SortFunc(out, func(a, b Position) int { return strings.Compare(string(a.User), string(b.User)) })
		return nil
	})
	return out, err
}

// GetLPShares LP 持有的份额
func (e *Engine) GetLPShares(ctx context.Context, lp account.Address) (int64, error) {
	var v int64
	err := e.query(ctx, func(t *txn) error {
		v = t.shares(lp)
		return nil
	})
	return v, err
}

// GetCollateralBalance 可用保证金余额
func (e *Engine) GetCollateralBalance(ctx context.Context, user, asset account.Address) (int64, error) {
	var v int64
	err := e.query(ctx, func(t *txn) error {
		v = t.balance(user, asset)
		return nil
	})
	return v, err
}

// GetCollateralConfig 保证金资产配置
func (e *Engine) GetCollateralConfig(ctx context.Context, token account.Address) (CollateralConfig, error) {
	var cfg CollateralConfig
	err := e.query(ctx, func(t *txn) error {
		c, ok := t.config(token)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedCollateral, token)
		}
		cfg = c
		return nil
	})
	return cfg, err
}

// GetReserve 协议储备 (清算还款、平仓扣除的保证金)
func (e *Engine) GetReserve(ctx context.Context, asset account.Address) (int64, error) {
	var v int64
	err := e.query(ctx, func(t *txn) error {
		v = t.reserve(asset)
		return nil
	})
	return v, err
}
