// 文件: cmd/simulation/scenario.go
// 脚本化场景
//
//	LP 存入流动性 -> 交易者存保证金、开代理会话、开 1.5 健康度仓位
//	-> 价格下跌进入 CRITICAL -> 再跌破清算线 -> 守护进程清算

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"levpool.com/pkg/account"
	"levpool.com/pkg/alert"
	"levpool.com/pkg/config"
	"levpool.com/pkg/oracle"
	"levpool.com/pkg/pool"
	"levpool.com/pkg/session"
)

const (
	simLP     account.Address = "sim-lp"
	simTrader account.Address = "sim-trader"

	simLiquidity  = 1_000_000
	simCollateral = 1_000_000
	simBorrow     = 500_000
)

func runScenario(ctx context.Context, a *app) error {
	params, err := a.engine.GetParams(ctx)
	if err != nil {
		return err
	}
	col, ok := a.firstActiveCollateral()
	if !ok {
		return errors.New("no active collateral type configured")
	}
	token := account.Address(col.Token)
	feedKey := col.PriceFeed

	// 1. 初始价格 1.0
	if err := a.pushPrice(ctx, feedKey, pool.PriceScale); err != nil {
		return err
	}

	// 2. LP 存入
	if err := a.ledger.Mint(params.PoolAsset, simLP, simLiquidity); err != nil {
		return err
	}
	shares, err := a.engine.LPDeposit(account.WithSigners(ctx, simLP), simLP, simLiquidity)
	if err != nil {
		return fmt.Errorf("lp deposit: %w", err)
	}
	a.log.Info("[Sim] 💧 LP deposited", zap.Int64("amount", simLiquidity), zap.Int64("shares", shares))

	// 3. 交易者存保证金 + 开会话 + 开仓
	if err := a.ledger.Mint(token, simTrader, simCollateral); err != nil {
		return err
	}
	traderCtx := account.WithSigners(ctx, simTrader)
	if err := a.engine.DepositCollateral(traderCtx, simTrader, token, simCollateral); err != nil {
		return fmt.Errorf("deposit collateral: %w", err)
	}

	agentPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	if _, err := a.sessions.StartSession(traderCtx, session.StartRequest{
		User:     simTrader,
		AgentKey: agentPub,
		Duration: session.MaxSessionLedgers,
	}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	agent, err := account.FromPublicKey(agentPub)
	if err != nil {
		return err
	}
	pos, err := a.engine.OpenPosition(account.WithSigners(ctx, agent), simTrader, token, simBorrow, pool.Long)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	health, err := a.engine.GetHealthRatio(ctx, simTrader)
	if err != nil {
		return err
	}
	a.log.Info("[Sim] 📈 position opened",
		zap.Int64("id", pos.ID),
		zap.Int64("borrowed", pos.BorrowedAmount),
		zap.Int64("health_bps", health))

	// 清算价上方 10% 设置预警
	cc, err := col.Config()
	if err != nil {
		return err
	}
	liqPrice := pool.PriceScale * simBorrow * pool.BasisPoints / (simCollateral * cc.CollateralFactorBps)
	if err := a.alerts.Subscribe(ctx, alert.Rule{
		ID:        "liq-" + strconv.FormatInt(pos.ID, 10),
		User:      simTrader,
		FeedKey:   feedKey,
		Direction: alert.Below,
		Price:     liqPrice * 11 / 10,
		Type:      alert.AlertOnce,
	}); err != nil {
		return fmt.Errorf("subscribe alert: %w", err)
	}

	if a.keeper == nil {
		a.log.Info("[Sim] keeper disabled, stopping before the crash")
		return nil
	}

	// 清算人需要持有池资产偿还负债
	if err := a.ledger.Mint(params.PoolAsset, account.Address(a.cfg.Keeper.Liquidator), 2*simBorrow); err != nil {
		return err
	}

	// 4. 下跌到 0.7: 健康度 1.05 进入 CRITICAL，扫描一次建立索引
	if err := a.pushPrice(ctx, feedKey, pool.PriceScale*7/10); err != nil {
		return err
	}
	if err := a.waitPrice(ctx, feedKey, pool.PriceScale*7/10); err != nil {
		return err
	}
	if err := a.keeper.ScanOnce(ctx); err != nil {
		return err
	}
	a.log.Info("[Sim] 📉 price dropped", zap.String("feed", feedKey), zap.Int("critical", a.keeper.Stats().Critical))

	// 5. 跌到 0.6: 健康度 0.9，价格回调触发清算
	a.log.Info("[Sim] 📉 FORCED CRASH", zap.String("feed", feedKey), zap.Int64("price", pool.PriceScale*6/10))
	if err := a.pushPrice(ctx, feedKey, pool.PriceScale*6/10); err != nil {
		return err
	}

	deadline := time.Now().Add(a.cfg.Keeper.ScanInterval*3 + 5*time.Second)
	for time.Now().Before(deadline) {
		p, err := a.engine.GetPosition(ctx, simTrader)
		if err != nil {
			return err
		}
		if p == nil {
			a.log.Info("[Sim] ✅ position liquidated by keeper",
				zap.Int64("liquidator_collateral", a.ledger.BalanceOf(token, account.Address(a.cfg.Keeper.Liquidator))))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return errors.New("position was not liquidated in time")
}

// pushPrice 有 NATS 时走行情主题，否则直接写价格源
func (a *app) pushPrice(ctx context.Context, key string, price int64) error {
	ts := uint64(time.Now().Unix())
	if a.natsPub != nil {
		if err := oracle.PublishTick(a.natsPub, oracle.Tick{Key: key, Price: price, TS: ts}); err != nil {
			return err
		}
		return a.natsPub.Flush(time.Second)
	}
	return a.prices.SetPrice(ctx, key, price, ts)
}

// waitPrice 等待报价生效 (NATS 投递是异步的)
func (a *app) waitPrice(ctx context.Context, key string, price int64) error {
	for i := 0; i < 50; i++ {
		p, ok, err := a.feed.LastPrice(ctx, key)
		if err != nil {
			return err
		}
		if ok && p.Price == price {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("price %s=%d not observed", key, price)
}

func (a *app) firstActiveCollateral() (config.CollateralConfig, bool) {
	for _, col := range a.cfg.Collateral {
		if col.Active {
			return col, true
		}
	}
	return config.CollateralConfig{}, false
}

// report 打印池与守护进程状态
func (a *app) report(ctx context.Context) {
	stats, err := a.engine.GetPoolStats(ctx)
	if err != nil {
		a.log.Warn("[Sim] pool stats unavailable", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Int64("total_liquidity", stats.TotalLiquidity),
		zap.Int64("total_borrowed", stats.TotalBorrowed),
		zap.Int64("total_shares", stats.TotalShares),
		zap.Int64("utilization_bps", stats.UtilizationRateBps),
		zap.Int("open_positions", stats.OpenPositions),
	}
	if a.keeper != nil {
		ks := a.keeper.Stats()
		fields = append(fields,
			zap.Int64("liquidated", ks.Liquidated),
			zap.Int64("accrued", ks.Accrued),
			zap.Int64("keeper_failed", ks.Failed))
	}
	if a.repo != nil {
		if n, err := a.repo.Count(ctx); err == nil {
			fields = append(fields, zap.Int64("recorded_events", n))
		}
	}
	a.log.Info("[Sim] 📊 summary", fields...)
}
