package pool

import (
	"context"
	"fmt"

	"levpool.com/pkg/account"
)

// Initialize 一次性初始化池参数，admin 必须签名
func (e *Engine) Initialize(ctx context.Context, p Params) error {
	return e.exec(ctx, "initialize", func(t *txn) error {
		if t.base.params != nil || t.cs.Params != nil {
			return ErrAlreadyInitialized
		}
		if err := requireSigner(ctx, p.Admin); err != nil {
			return err
		}
		if err := validateParams(p); err != nil {
			return err
		}

		t.setParams(p)
		t.setPool(PoolState{})
		t.emit(Event{Kind: EventInitialized, User: p.Admin, Asset: p.PoolAsset})

		e.log.Info("[Pool] initialized")
		return nil
	})
}

func validateParams(p Params) error {
	switch {
	case p.PoolAsset.IsZero():
		return fmt.Errorf("%w: pool asset required", ErrInvalidAmount)
	case p.BorrowRateBps < 0:
		return fmt.Errorf("%w: borrow rate %d", ErrInvalidAmount, p.BorrowRateBps)
	case p.LiquidationBonusBps < 0:
		return fmt.Errorf("%w: liquidation bonus %d", ErrInvalidAmount, p.LiquidationBonusBps)
	case p.MaxLeverageBps < 0:
		return fmt.Errorf("%w: max leverage %d", ErrInvalidAmount, p.MaxLeverageBps)
	case p.MinHealthBps <= 0:
		return fmt.Errorf("%w: min health %d", ErrInvalidAmount, p.MinHealthBps)
	}
	return nil
}

// SetCollateralType 新增或更新保证金资产配置，只有 admin 可调用
//
// 停用 (IsActive=false) 只影响新的存入和开仓，已有仓位照常平仓和清算
func (e *Engine) SetCollateralType(ctx context.Context, caller, token account.Address, cfg CollateralConfig) error {
	return e.exec(ctx, "set_collateral_type", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if caller != p.Admin {
			return fmt.Errorf("%w: %s is not admin", ErrUnauthorized, caller)
		}
		if err := requireSigner(ctx, caller); err != nil {
			return err
		}
		if token.IsZero() {
			return fmt.Errorf("%w: empty collateral token", ErrInvalidAmount)
		}
		if cfg.CollateralFactorBps <= 0 || cfg.CollateralFactorBps > BasisPoints {
			return fmt.Errorf("%w: collateral factor %d", ErrInvalidAmount, cfg.CollateralFactorBps)
		}

		t.setConfig(token, cfg)
		t.emit(Event{Kind: EventCollateralTypeSet, User: caller, Asset: token, Amount: cfg.CollateralFactorBps})
		return nil
	})
}
