// 文件: pkg/pool/position.go
// 仓位生命周期: 开仓 -> 计息 -> 平仓 / 清算
//
// 开仓时用户该资产的全部可用保证金锁进仓位 (可用余额清零)，
// 平仓时剩余保证金退回可用余额，清算时全部转给清算人

package pool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"levpool.com/pkg/account"
)

// CloseResult 平仓结果
type CloseResult struct {
	Debt         int64 // 平仓时负债 (含利息)
	PnL          int64 // 保证金市值 - 负债
	Payout       int64 // 实际从池中支付的盈利
	Seized       int64 // 因亏损扣除的保证金
	Returned     int64 // 退回可用余额的保证金
	Price        int64
	InterestPaid int64 // 本次平仓前补计的利息
}

// LiquidationResult 清算结果
type LiquidationResult struct {
	Debt       int64 // 清算人偿还的负债
	Collateral int64 // 清算人获得的保证金
	Bonus      int64 // 清算奖励 (只用于事件)
	Refunded   int64 // 退还给用户的开仓后新增可用余额
	Health     int64 // 清算时健康度
	Price      int64
}

// OpenPosition 开杠杆仓位
//
// 需要代理会话授权；检查顺序: 已有仓位 -> 保证金配置 -> 可用保证金 ->
// 预言机 -> 可借额度 -> 池流动性 -> 开仓健康度 (MinHealthBps 的 150%)
func (e *Engine) OpenPosition(ctx context.Context, user, token account.Address, borrow int64, dir Direction) (*Position, error) {
	var opened *Position
	err := e.exec(ctx, "open_position", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if err := e.requireAgent(ctx, user); err != nil {
			return err
		}
		if borrow <= 0 {
			return fmt.Errorf("%w: borrow %d", ErrInvalidAmount, borrow)
		}
		if !dir.Valid() {
			return fmt.Errorf("%w: direction %d", ErrInvalidAmount, dir)
		}
		if t.position(user) != nil {
			return fmt.Errorf("%w: %s", ErrPositionAlreadyOpen, user)
		}
		cfg, err := activeConfig(t, token)
		if err != nil {
			return err
		}
		collateral := t.balance(user, token)
		if collateral <= 0 {
			return fmt.Errorf("%w: no free %s", ErrInsufficientCollateral, token)
		}
		price, err := e.price(ctx, cfg)
		if err != nil {
			return err
		}

		capacity := CollateralCapacity(collateral, price, cfg.CollateralFactorBps)
		if borrow > capacity {
			return fmt.Errorf("%w: borrow=%d capacity=%d", ErrBorrowExceedsCollateral, borrow, capacity)
		}
		st := t.pool()
		if st.Available() < borrow {
			return fmt.Errorf("%w: available=%d borrow=%d", ErrInsufficientPoolLiquidity, st.Available(), borrow)
		}
		health := ComputeHealth(collateral, price, cfg.CollateralFactorBps, borrow)
		if floor := marginFloor(p.MinHealthBps, OpenHealthMarginPct); health < floor {
			return fmt.Errorf("%w: health=%d floor=%d", ErrInsufficientCollateral, health, floor)
		}

		now := t.now()
		pos := &Position{
			ID:               e.cfg.IDs.NextID(),
			User:             user,
			BorrowedAmount:   borrow,
			CollateralToken:  token,
			CollateralAmount: collateral,
			OpenedAt:         now,
			LastInterestTick: now,
			Direction:        dir,
		}
		t.setPosition(pos)
		t.setBalance(user, token, 0)
		st.TotalBorrowed += borrow
		t.setPool(st)

		t.emit(Event{
			Kind: EventPositionOpened, User: user, Asset: token, PositionID: pos.ID,
			Borrowed: borrow, Collateral: collateral, Direction: dir.String(), Health: health, Price: price,
		})
		opened = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("[Pool] position opened",
		zap.String("user", user.String()),
		zap.Int64("id", opened.ID),
		zap.Int64("borrowed", opened.BorrowedAmount),
		zap.Int64("collateral", opened.CollateralAmount),
		zap.Stringer("direction", opened.Direction))
	return opened.Clone(), nil
}

// AccrueInterest 给 user 的仓位计息 (任何人可调用)，返回新增利息
//
// 没有仓位时为空操作
func (e *Engine) AccrueInterest(ctx context.Context, user account.Address) (int64, error) {
	var accrued int64
	err := e.exec(ctx, "accrue_interest", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		pos := t.position(user)
		if pos == nil {
			return nil
		}
		accrued = accrue(t, p, pos)
		return nil
	})
	return accrued, err
}

// accrue 在事务内计息并更新池总负债
func accrue(t *txn, p *Params, pos *Position) int64 {
	last := pos.LastInterestTick
	interest := AccrueInterest(pos, p.BorrowRateBps, t.now())
	if pos.LastInterestTick == last {
		return 0
	}
	t.setPosition(pos)
	if interest > 0 {
		st := t.pool()
		st.TotalBorrowed = addSat(st.TotalBorrowed, interest)
		t.setPool(st)
		t.emit(Event{
			Kind: EventInterestAccrued, User: pos.User, PositionID: pos.ID,
			Interest: interest, Borrowed: pos.BorrowedAmount,
		})
	}
	return interest
}

// ClosePosition 平仓
//
// 先计息，再按现价结算: 盈利从池流动性支付 (以 MaxPayout 为上限)，
// 亏损按现价折算成保证金扣除 (最多扣完)，剩余保证金退回可用余额
func (e *Engine) ClosePosition(ctx context.Context, user account.Address) (CloseResult, error) {
	var res CloseResult
	err := e.exec(ctx, "close_position", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if err := e.requireAgent(ctx, user); err != nil {
			return err
		}
		pos := t.position(user)
		if pos == nil {
			return fmt.Errorf("%w: %s", ErrNoOpenPosition, user)
		}
		cfg, ok := t.config(pos.CollateralToken)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedCollateral, pos.CollateralToken)
		}
		price, err := e.price(ctx, cfg)
		if err != nil {
			return err
		}
		interest := accrue(t, p, pos)

		debt := pos.BorrowedAmount
		value := CollateralValue(pos.CollateralAmount, price)
		pnl := value - debt
		remaining := pos.CollateralAmount

		st := t.pool()
		st.TotalBorrowed -= debt
		if st.TotalBorrowed < 0 {
			st.TotalBorrowed = 0
		}

		var payout, seized int64
		switch {
		case pnl > 0:
			payout = min(pnl, MaxPayout(st))
			st.TotalLiquidity -= payout
			t.move(p.PoolAsset, e.cfg.Custody, user, payout)
		case pnl < 0:
			loss, err := LossInCollateral(-pnl, price)
			if err != nil {
				return err
			}
			seized = min(loss, remaining)
			remaining -= seized
			t.addReserve(pos.CollateralToken, seized)
		}

		t.setPool(st)
		t.setBalance(user, pos.CollateralToken, t.balance(user, pos.CollateralToken)+remaining)
		t.deletePosition(user)

		t.emit(Event{
			Kind: EventPositionClosed, User: user, Asset: pos.CollateralToken, PositionID: pos.ID,
			Borrowed: debt, Collateral: remaining, PnL: pnl, Amount: payout, Price: price,
		})
		res = CloseResult{
			Debt: debt, PnL: pnl, Payout: payout, Seized: seized,
			Returned: remaining, Price: price, InterestPaid: interest,
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	e.log.Info("[Pool] position closed",
		zap.String("user", user.String()),
		zap.Int64("debt", res.Debt),
		zap.Int64("pnl", res.PnL),
		zap.Int64("payout", res.Payout))
	return res, nil
}

// Liquidate 清算不健康的仓位 (任何人可调用)
//
// 先计息；健康度低于 MinHealthBps 才能清算。清算人偿还全部负债，
// 获得全部锁定保证金；用户开仓后新存入的同资产可用余额退还给用户
func (e *Engine) Liquidate(ctx context.Context, liquidator, user account.Address) (LiquidationResult, error) {
	var res LiquidationResult
	err := e.exec(ctx, "liquidate", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if err := requireSigner(ctx, liquidator); err != nil {
			return err
		}
		pos := t.position(user)
		if pos == nil {
			return fmt.Errorf("%w: %s", ErrNoOpenPosition, user)
		}
		cfg, ok := t.config(pos.CollateralToken)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedCollateral, pos.CollateralToken)
		}
		price, err := e.price(ctx, cfg)
		if err != nil {
			return err
		}
		accrue(t, p, pos)

		health := ComputeHealth(pos.CollateralAmount, price, cfg.CollateralFactorBps, pos.BorrowedAmount)
		if health >= p.MinHealthBps {
			return fmt.Errorf("%w: health=%d min=%d", ErrPositionHealthy, health, p.MinHealthBps)
		}

		debt := pos.BorrowedAmount
		collateral := pos.CollateralAmount
		bonus, _ := mulDiv(collateral, p.LiquidationBonusBps, 1, BasisPoints)

		// 负债由清算人偿还到托管账户，计入储备；池流动性不变
		t.move(p.PoolAsset, liquidator, e.cfg.Custody, debt)
		t.addReserve(p.PoolAsset, debt)
		st := t.pool()
		st.TotalBorrowed -= debt
		if st.TotalBorrowed < 0 {
			st.TotalBorrowed = 0
		}
		t.setPool(st)

		t.move(pos.CollateralToken, e.cfg.Custody, liquidator, collateral)

		refund := t.balance(user, pos.CollateralToken)
		if refund > 0 {
			t.move(pos.CollateralToken, e.cfg.Custody, user, refund)
		}
		t.setBalance(user, pos.CollateralToken, 0)
		t.deletePosition(user)

		t.emit(Event{
			Kind: EventLiquidation, User: user, Liquidator: liquidator, Asset: pos.CollateralToken,
			PositionID: pos.ID, Borrowed: debt, Collateral: collateral, Bonus: bonus, Health: health, Price: price,
		})
		res = LiquidationResult{
			Debt: debt, Collateral: collateral, Bonus: bonus,
			Refunded: refund, Health: health, Price: price,
		}
		return nil
	})
	if err != nil {
		return LiquidationResult{}, err
	}
	e.log.Info("[Pool] position liquidated",
		zap.String("user", user.String()),
		zap.String("liquidator", liquidator.String()),
		zap.Int64("debt", res.Debt),
		zap.Int64("collateral", res.Collateral),
		zap.Int64("health", res.Health))
	return res, nil
}
