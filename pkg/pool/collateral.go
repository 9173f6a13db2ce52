package pool

import (
	"context"
	"fmt"

	"levpool.com/pkg/account"
)

// DepositCollateral 存入保证金到可用余额
func (e *Engine) DepositCollateral(ctx context.Context, user, asset account.Address, amount int64) error {
	return e.exec(ctx, "deposit_collateral", func(t *txn) error {
		if _, err := t.params(); err != nil {
			return err
		}
		if err := requireSigner(ctx, user); err != nil {
			return err
		}
		if amount <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
		}
		if _, err := activeConfig(t, asset); err != nil {
			return err
		}

		t.move(asset, user, e.cfg.Custody, amount)
		t.setBalance(user, asset, t.balance(user, asset)+amount)

		t.emit(Event{Kind: EventCollateralDeposit, User: user, Asset: asset, Amount: amount})
		return nil
	})
}

// WithdrawCollateral 从可用余额提取保证金
//
// 同资产有未还负债时，仓位健康度 (按含未计利息的负债) 必须不低于
// MinHealthBps 的 120%
func (e *Engine) WithdrawCollateral(ctx context.Context, user, asset account.Address, amount int64) error {
	return e.exec(ctx, "withdraw_collateral", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if err := requireSigner(ctx, user); err != nil {
			return err
		}
		if amount <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
		}

		if pos := t.position(user); pos != nil && pos.CollateralToken == asset && pos.BorrowedAmount > 0 {
			cfg, ok := t.config(asset)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnsupportedCollateral, asset)
			}
			price, err := e.price(ctx, cfg)
			if err != nil {
				return err
			}
			AccrueInterest(pos, p.BorrowRateBps, t.now())
			health := ComputeHealth(pos.CollateralAmount, price, cfg.CollateralFactorBps, pos.BorrowedAmount)
			if floor := marginFloor(p.MinHealthBps, WithdrawHealthMarginPct); health < floor {
				return fmt.Errorf("%w: health=%d floor=%d", ErrWithdrawalWouldLiquidate, health, floor)
			}
		}

		bal := t.balance(user, asset)
		if bal < amount {
			return fmt.Errorf("%w: balance=%d requested=%d", ErrInsufficientCollateral, bal, amount)
		}

		t.setBalance(user, asset, bal-amount)
		t.move(asset, e.cfg.Custody, user, amount)

		t.emit(Event{Kind: EventCollateralWithdraw, User: user, Asset: asset, Amount: amount})
		return nil
	})
}

// activeConfig 读取已启用的保证金配置
func activeConfig(t *txn, asset account.Address) (CollateralConfig, error) {
	cfg, ok := t.config(asset)
	if !ok {
		return cfg, fmt.Errorf("%w: %s", ErrUnsupportedCollateral, asset)
	}
	if !cfg.IsActive {
		return cfg, fmt.Errorf("%w: %s", ErrInactiveCollateral, asset)
	}
	return cfg, nil
}
