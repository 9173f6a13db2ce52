// 文件: pkg/storage/gorm_store.go
// 池状态的 GORM 存储实现
//
// 【设计】
// - 一个 ChangeSet 在一个数据库事务里写完
// - 写入使用 upsert (ON CONFLICT UPDATE)，MySQL / Postgres / SQLite 通用
// - 删除仓位是物理删除

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"levpool.com/pkg/account"
	"levpool.com/pkg/pool"
)

// 确保实现了接口
var _ pool.Store = (*GormStore)(nil)

// GormStore GORM 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB 底层连接
func (s *GormStore) DB() *gorm.DB { return s.db }

// Migrate 建表
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// 读
// =============================================================================

// Load 实现 pool.Store
func (s *GormStore) Load(ctx context.Context) (*pool.ChangeSet, error) {
	db := s.db.WithContext(ctx)
	cs := pool.NewChangeSet(0)

	var params ParamsRow
	err := db.First(&params, singletonID).Error
	switch {
	case err == nil:
		cs.Params = &pool.Params{
			Admin:               account.Address(params.Admin),
			PoolAsset:           account.Address(params.PoolAsset),
			BorrowRateBps:       params.BorrowRateBps,
			LiquidationBonusBps: params.LiquidationBonusBps,
			MaxLeverageBps:      params.MaxLeverageBps,
			MinHealthBps:        params.MinHealthBps,
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load params: %w", err)
	}

	var st PoolRow
	err = db.First(&st, singletonID).Error
	switch {
	case err == nil:
		cs.Pool = &pool.PoolState{
			TotalLiquidity: st.TotalLiquidity,
			TotalBorrowed:  st.TotalBorrowed,
			TotalShares:    st.TotalShares,
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load pool: %w", err)
	}

	var shares []ShareRow
	if err := db.Find(&shares).Error; err != nil {
		return nil, fmt.Errorf("load shares: %w", err)
	}
	for _, r := range shares {
		cs.Shares[account.Address(r.LP)] = r.Shares
	}

	var balances []BalanceRow
	if err := db.Find(&balances).Error; err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	for _, r := range balances {
		cs.Balances[pool.BalanceKey{User: account.Address(r.User), Asset: account.Address(r.Asset)}] = r.Amount
	}

	var configs []ConfigRow
	if err := db.Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("load configs: %w", err)
	}
	for _, r := range configs {
		cs.Configs[account.Address(r.Token)] = pool.CollateralConfig{
			CollateralFactorBps: r.CollateralFactorBps,
			PriceFeedKey:        r.PriceFeedKey,
			IsActive:            r.IsActive,
		}
	}

	var positions []PositionRow
	if err := db.Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for _, r := range positions {
		p := positionFromRow(r)
		cs.Positions[p.User] = p
	}

	var reserves []ReserveRow
	if err := db.Find(&reserves).Error; err != nil {
		return nil, fmt.Errorf("load reserves: %w", err)
	}
	for _, r := range reserves {
		cs.Reserves[account.Address(r.Asset)] = r.Amount
	}

	return cs, nil
}

// =============================================================================
// 写
// =============================================================================

// Apply 实现 pool.Store
func (s *GormStore) Apply(ctx context.Context, cs *pool.ChangeSet) error {
	until := cs.Sequence + pool.RetentionBump
	now := time.Now()
	upsert := clause.OnConflict{UpdateAll: true}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p := cs.Params; p != nil {
			row := ParamsRow{
				ID: singletonID, Admin: p.Admin.String(), PoolAsset: p.PoolAsset.String(),
				BorrowRateBps: p.BorrowRateBps, LiquidationBonusBps: p.LiquidationBonusBps,
				MaxLeverageBps: p.MaxLeverageBps, MinHealthBps: p.MinHealthBps,
				RetainUntil: until, UpdatedAt: now,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save params: %w", err)
			}
		}
		if p := cs.Pool; p != nil {
			row := PoolRow{
				ID: singletonID, TotalLiquidity: p.TotalLiquidity, TotalBorrowed: p.TotalBorrowed,
				TotalShares: p.TotalShares, RetainUntil: until, UpdatedAt: now,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save pool: %w", err)
			}
		}
		for lp, v := range cs.Shares {
			row := ShareRow{LP: lp.String(), Shares: v, RetainUntil: until, UpdatedAt: now}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save shares %s: %w", lp, err)
			}
		}
		for k, v := range cs.Balances {
			row := BalanceRow{User: k.User.String(), Asset: k.Asset.String(), Amount: v, RetainUntil: until, UpdatedAt: now}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save balance %s/%s: %w", k.User, k.Asset, err)
			}
		}
		for token, c := range cs.Configs {
			row := ConfigRow{
				Token: token.String(), CollateralFactorBps: c.CollateralFactorBps,
				PriceFeedKey: c.PriceFeedKey, IsActive: c.IsActive, RetainUntil: until, UpdatedAt: now,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save config %s: %w", token, err)
			}
		}
		for user, p := range cs.Positions {
			if p == nil {
				if err := tx.Where("account = ?", user.String()).Delete(&PositionRow{}).Error; err != nil {
					return fmt.Errorf("delete position %s: %w", user, err)
				}
				continue
			}
			row := positionToRow(p)
			row.RetainUntil, row.UpdatedAt = until, now
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save position %s: %w", user, err)
			}
		}
		for a, v := range cs.Reserves {
			row := ReserveRow{Asset: a.String(), Amount: v, RetainUntil: until, UpdatedAt: now}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return fmt.Errorf("save reserve %s: %w", a, err)
			}
		}
		return nil
	})
}

// Touch 实现 pool.Store，只会延长不会缩短保留期
func (s *GormStore) Touch(ctx context.Context, seq uint64, keys ...pool.RecordKey) error {
	until := seq + pool.RetentionBump
	db := s.db.WithContext(ctx)

	for _, k := range keys {
		q, err := scopeFor(db, k)
		if err != nil {
			return err
		}
		if err := q.Where("retain_until < ?", until).Update("retain_until", until).Error; err != nil {
			return fmt.Errorf("touch %s: %w", k.Kind, err)
		}
	}
	return nil
}

// RetainUntil 记录的保留期 (不存在返回 0)
func (s *GormStore) RetainUntil(ctx context.Context, k pool.RecordKey) (uint64, error) {
	q, err := scopeFor(s.db.WithContext(ctx), k)
	if err != nil {
		return 0, err
	}
	var until []uint64
	if err := q.Pluck("retain_until", &until).Error; err != nil {
		return 0, err
	}
	if len(until) == 0 {
		return 0, nil
	}
	return until[0], nil
}

// scopeFor 定位一条记录
func scopeFor(db *gorm.DB, k pool.RecordKey) (*gorm.DB, error) {
	switch k.Kind {
	case pool.RecordParams:
		return db.Model(&ParamsRow{}).Where("id = ?", singletonID), nil
	case pool.RecordPool:
		return db.Model(&PoolRow{}).Where("id = ?", singletonID), nil
	case pool.RecordShares:
		return db.Model(&ShareRow{}).Where("lp = ?", k.User.String()), nil
	case pool.RecordBalance:
		return db.Model(&BalanceRow{}).Where("account = ? AND asset = ?", k.User.String(), k.Asset.String()), nil
	case pool.RecordConfig:
		return db.Model(&ConfigRow{}).Where("token = ?", k.Asset.String()), nil
	case pool.RecordPosition:
		return db.Model(&PositionRow{}).Where("account = ?", k.User.String()), nil
	case pool.RecordReserve:
		return db.Model(&ReserveRow{}).Where("asset = ?", k.Asset.String()), nil
	}
	return nil, fmt.Errorf("unknown record kind %d", k.Kind)
}

func positionToRow(p *pool.Position) PositionRow {
	return PositionRow{
		User:             p.User.String(),
		PositionID:       p.ID,
		BorrowedAmount:   p.BorrowedAmount,
		CollateralToken:  p.CollateralToken.String(),
		CollateralAmount: p.CollateralAmount,
		OpenedAt:         p.OpenedAt,
		LastInterestTick: p.LastInterestTick,
		Direction:        uint8(p.Direction),
	}
}

func positionFromRow(r PositionRow) *pool.Position {
	return &pool.Position{
		ID:               r.PositionID,
		User:             account.Address(r.User),
		BorrowedAmount:   r.BorrowedAmount,
		CollateralToken:  account.Address(r.CollateralToken),
		CollateralAmount: r.CollateralAmount,
		OpenedAt:         r.OpenedAt,
		LastInterestTick: r.LastInterestTick,
		Direction:        pool.Direction(r.Direction),
	}
}
