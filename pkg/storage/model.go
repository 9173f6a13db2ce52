// 文件: pkg/storage/model.go
// 持久化表结构
//
// 每张表都有 retain_until 列: 记录被写入或读取时续到 当前账本 + RetentionBump

package storage

import "time"

// singletonID 单例表的主键
const singletonID = 1

// ParamsRow 池参数 (单例)
type ParamsRow struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement:false"`
	Admin               string `gorm:"type:varchar(128);not null"`
	PoolAsset           string `gorm:"type:varchar(128);not null"`
	BorrowRateBps       int64  `gorm:"not null"`
	LiquidationBonusBps int64  `gorm:"not null"`
	MaxLeverageBps      int64  `gorm:"not null"`
	MinHealthBps        int64  `gorm:"not null"`
	RetainUntil         uint64 `gorm:"not null;index"`
	UpdatedAt           time.Time
}

func (ParamsRow) TableName() string { return "pool_params" }

// PoolRow 池总账 (单例)
type PoolRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	TotalLiquidity int64  `gorm:"not null"`
	TotalBorrowed  int64  `gorm:"not null"`
	TotalShares    int64  `gorm:"not null"`
	RetainUntil    uint64 `gorm:"not null;index"`
	UpdatedAt      time.Time
}

func (PoolRow) TableName() string { return "pool_state" }

// ShareRow LP 份额
type ShareRow struct {
	LP          string `gorm:"primaryKey;type:varchar(128)"`
	Shares      int64  `gorm:"not null"`
	RetainUntil uint64 `gorm:"not null;index"`
	UpdatedAt   time.Time
}

func (ShareRow) TableName() string { return "lp_shares" }

// BalanceRow 可用保证金
type BalanceRow struct {
	User        string `gorm:"column:account;primaryKey;type:varchar(128)"`
	Asset       string `gorm:"primaryKey;type:varchar(128)"`
	Amount      int64  `gorm:"not null"`
	RetainUntil uint64 `gorm:"not null;index"`
	UpdatedAt   time.Time
}

func (BalanceRow) TableName() string { return "collateral_balances" }

// ConfigRow 保证金配置
type ConfigRow struct {
	Token               string `gorm:"primaryKey;type:varchar(128)"`
	CollateralFactorBps int64  `gorm:"not null"`
	PriceFeedKey        string `gorm:"type:varchar(64);not null"`
	IsActive            bool   `gorm:"not null"`
	RetainUntil         uint64 `gorm:"not null;index"`
	UpdatedAt           time.Time
}

func (ConfigRow) TableName() string { return "collateral_configs" }

// PositionRow 仓位
type PositionRow struct {
	User             string `gorm:"column:account;primaryKey;type:varchar(128)"`
	PositionID       int64  `gorm:"not null;index"`
	BorrowedAmount   int64  `gorm:"not null"`
	CollateralToken  string `gorm:"type:varchar(128);not null"`
	CollateralAmount int64  `gorm:"not null"`
	OpenedAt         uint64 `gorm:"not null"`
	LastInterestTick uint64 `gorm:"not null"`
	Direction        uint8  `gorm:"not null"`
	RetainUntil      uint64 `gorm:"not null;index"`
	UpdatedAt        time.Time
}

func (PositionRow) TableName() string { return "positions" }

// ReserveRow 协议储备
type ReserveRow struct {
	Asset       string `gorm:"primaryKey;type:varchar(128)"`
	Amount      int64  `gorm:"not null"`
	RetainUntil uint64 `gorm:"not null;index"`
	UpdatedAt   time.Time
}

func (ReserveRow) TableName() string { return "reserves" }

// EventRow 事件流水
type EventRow struct {
	ID         string `gorm:"primaryKey;type:varchar(64)"`
	Kind       string `gorm:"type:varchar(32);not null;index"`
	Sequence   uint64 `gorm:"not null;index"`
	User       string `gorm:"column:account;type:varchar(128);index"`
	Liquidator string `gorm:"type:varchar(128)"`
	Asset      string `gorm:"type:varchar(128)"`
	PositionID int64
	Amount     int64
	Shares     int64
	Borrowed   int64
	Collateral int64
	PnL        int64
	Interest   int64
	Bonus      int64
	Health     int64
	Price      int64
	Payload    string `gorm:"type:text"` // 原始 JSON
	CreatedAt  time.Time
}

func (EventRow) TableName() string { return "pool_events" }

// allModels 需要迁移的表
func allModels() []any {
	return []any{
		&ParamsRow{}, &PoolRow{}, &ShareRow{}, &BalanceRow{},
		&ConfigRow{}, &PositionRow{}, &ReserveRow{}, &EventRow{},
	}
}
