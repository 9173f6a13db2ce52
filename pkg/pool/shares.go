// 文件: pkg/pool/shares.go
// LP 份额: 存入基础资产换份额，份额按比例赎回
//
// 份额只在存入 / 赎回时变化；利息和平仓盈亏改变的是 TotalLiquidity，
// 因此份额价格 = TotalLiquidity / TotalShares

package pool

import (
	"context"
	"fmt"

	"levpool.com/pkg/account"
)

// LPDeposit 存入基础资产，返回新铸造的份额
func (e *Engine) LPDeposit(ctx context.Context, lp account.Address, amount int64) (minted int64, err error) {
	err = e.exec(ctx, "lp_deposit", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if err := requireSigner(ctx, lp); err != nil {
			return err
		}
		if amount <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
		}

		st := t.pool()
		shares, err := SharesForDeposit(amount, st)
		if err != nil {
			return fmt.Errorf("price shares: liquidity=%d shares=%d: %w", st.TotalLiquidity, st.TotalShares, err)
		}

		t.move(p.PoolAsset, lp, e.cfg.Custody, amount)
		t.setShares(lp, t.shares(lp)+shares)
		st.TotalShares += shares
		st.TotalLiquidity += amount
		t.setPool(st)

		t.emit(Event{Kind: EventLPDeposit, User: lp, Asset: p.PoolAsset, Amount: amount, Shares: shares})
		minted = shares
		return nil
	})
	return minted, err
}

// LPWithdraw 赎回份额，返回取回的基础资产数量
//
// 只能赎回未被借出的部分 (TotalLiquidity - TotalBorrowed)
func (e *Engine) LPWithdraw(ctx context.Context, lp account.Address, shares int64) (redeemed int64, err error) {
	err = e.exec(ctx, "lp_withdraw", func(t *txn) error {
		p, err := t.params()
		if err != nil {
			return err
		}
		if err := requireSigner(ctx, lp); err != nil {
			return err
		}
		if shares <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidAmount, shares)
		}
		held := t.shares(lp)
		if held < shares {
			return fmt.Errorf("%w: shares held=%d requested=%d", ErrInsufficientBalance, held, shares)
		}

		st := t.pool()
		amount, err := RedeemForShares(shares, st)
		if err != nil {
			return err
		}
		if st.Available() < amount {
			return fmt.Errorf("%w: available=%d redeem=%d", ErrInsufficientPoolLiquidity, st.Available(), amount)
		}

		t.move(p.PoolAsset, e.cfg.Custody, lp, amount)
		t.setShares(lp, held-shares)
		st.TotalShares -= shares
		st.TotalLiquidity -= amount
		t.setPool(st)

		t.emit(Event{Kind: EventLPWithdraw, User: lp, Asset: p.PoolAsset, Amount: amount, Shares: shares})
		redeemed = amount
		return nil
	})
	return redeemed, err
}
