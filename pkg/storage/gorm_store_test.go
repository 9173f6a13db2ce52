package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/account"
	"levpool.com/pkg/asset"
	"levpool.com/pkg/oracle"
	"levpool.com/pkg/pool"
	"levpool.com/pkg/session"
)

func setupStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleChangeSet(seq uint64) *pool.ChangeSet {
	cs := pool.NewChangeSet(seq)
	cs.Params = &pool.Params{
		Admin: "admin", PoolAsset: "USDC",
		BorrowRateBps: 500, LiquidationBonusBps: 500, MaxLeverageBps: 100_000, MinHealthBps: 10_000,
	}
	cs.Pool = &pool.PoolState{TotalLiquidity: 10_000, TotalBorrowed: 3_000, TotalShares: 10_000}
	cs.Shares["lp1"] = 10_000
	cs.Balances[pool.BalanceKey{User: "alice", Asset: "XLM"}] = 250
	cs.Configs["XLM"] = pool.CollateralConfig{CollateralFactorBps: 7500, PriceFeedKey: "XLM", IsActive: true}
	cs.Positions["alice"] = &pool.Position{
		ID: 7, User: "alice", BorrowedAmount: 3_000, CollateralToken: "XLM",
		CollateralAmount: 10_000, OpenedAt: seq, LastInterestTick: seq, Direction: pool.Short,
	}
	cs.Reserves["USDC"] = 42
	return cs
}

func TestGormStore_ApplyAndLoad(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.Params)
	assert.Nil(t, empty.Pool)
	assert.Empty(t, empty.Positions)

	want := sampleChangeSet(1000)
	require.NoError(t, s.Apply(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, *want.Params, *got.Params)
	assert.Equal(t, *want.Pool, *got.Pool)
	assert.Equal(t, want.Shares, got.Shares)
	assert.Equal(t, want.Balances, got.Balances)
	assert.Equal(t, want.Configs, got.Configs)
	assert.Equal(t, want.Reserves, got.Reserves)
	require.Contains(t, got.Positions, account.Address("alice"))
	assert.Equal(t, *want.Positions["alice"], *got.Positions["alice"])
}

func TestGormStore_UpsertAndDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, sampleChangeSet(1000)))

	cs := pool.NewChangeSet(1200)
	cs.Pool = &pool.PoolState{TotalLiquidity: 10_150, TotalBorrowed: 0, TotalShares: 10_000}
	cs.Balances[pool.BalanceKey{User: "alice", Asset: "XLM"}] = 9_800
	cs.Positions["alice"] = nil
	require.NoError(t, s.Apply(ctx, cs))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10_150), got.Pool.TotalLiquidity)
	assert.Zero(t, got.Pool.TotalBorrowed)
	assert.Equal(t, int64(9_800), got.Balances[pool.BalanceKey{User: "alice", Asset: "XLM"}])
	assert.Empty(t, got.Positions)
	// 未涉及的记录不变
	assert.Equal(t, int64(10_000), got.Shares["lp1"])
}

func TestGormStore_Retention(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, sampleChangeSet(1000)))

	key := pool.RecordKey{Kind: pool.RecordBalance, User: "alice", Asset: "XLM"}
	until, err := s.RetainUntil(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000+pool.RetentionBump), until)

	// 读取续期
	require.NoError(t, s.Touch(ctx, 5000, key))
	until, err = s.RetainUntil(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000+pool.RetentionBump), until)

	// 不会缩短
	require.NoError(t, s.Touch(ctx, 10, key))
	until, err = s.RetainUntil(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000+pool.RetentionBump), until)

	// 不存在的记录
	until, err = s.RetainUntil(ctx, pool.RecordKey{Kind: pool.RecordPosition, User: "bob"})
	require.NoError(t, err)
	assert.Zero(t, until)
}

func TestGormStore_EngineRestart(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ledger := asset.NewLedger()
	feed := oracle.NewFeed()
	clock := pool.NewManualClock(1000)
	sessions := session.NewRegistry(clock, nil, nil)

	newEngine := func() *pool.Engine {
		eng, err := pool.NewEngine(pool.Config{
			Custody: "custody", Assets: ledger, Oracle: feed,
			Sessions: sessions, Clock: clock, Store: s,
		})
		require.NoError(t, err)
		require.NoError(t, eng.Start(ctx))
		return eng
	}

	signed := func(a ...account.Address) context.Context { return account.WithSigners(ctx, a...) }

	eng := newEngine()
	require.NoError(t, eng.Initialize(signed("admin"), pool.Params{
		Admin: "admin", PoolAsset: "USDC",
		BorrowRateBps: 500, LiquidationBonusBps: 500, MaxLeverageBps: 100_000, MinHealthBps: 10_000,
	}))
	require.NoError(t, ledger.Mint("USDC", "lp1", 10_000))
	_, err := eng.LPDeposit(signed("lp1"), "lp1", 10_000)
	require.NoError(t, err)
	eng.Stop()

	eng = newEngine()
	defer eng.Stop()
	shares, err := eng.GetLPShares(ctx, "lp1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), shares)
	stats, err := eng.GetPoolStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), stats.TotalLiquidity)
}
