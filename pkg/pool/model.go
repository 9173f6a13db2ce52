// 文件: pkg/pool/model.go
// 杠杆借贷池数据模型
//
// 所有金额均为 int64 最小单位；价格为 PriceScale 定点数；
// 比例类参数均为基点 (bps, 10000 = 100%)

package pool

import (
	"math"

	"levpool.com/pkg/account"
)

// =============================================================================
// 常量
// =============================================================================

const (
	// BasisPoints 基点分母
	BasisPoints = 10_000

	// HealthScale 健康度定点倍数 (10000 = 1.0)
	HealthScale = 10_000

	// PriceScale 价格定点倍数 (7 位小数)
	PriceScale = 10_000_000

	// InterestPeriod 计息周期 (账本序号数)
	InterestPeriod = 1000

	// RetentionBump 记录保留期 (账本序号数，约 30 天)
	RetentionBump = 518_400

	// InfiniteHealth 无负债时的健康度
	InfiniteHealth = math.MaxInt64
)

// 开仓 / 提取保证金 的安全边际 (相对 MinHealthBps 的百分比)
const (
	OpenHealthMarginPct     = 150
	WithdrawHealthMarginPct = 120
)

// =============================================================================
// 方向
// =============================================================================

// Direction 仓位方向 (只记录，不参与结算)
type Direction uint8

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Valid 方向是否合法
func (d Direction) Valid() bool { return d == Long || d == Short }

// ParseDirection 解析方向字符串
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "long", "LONG", "Long":
		return Long, true
	case "short", "SHORT", "Short":
		return Short, true
	}
	return 0, false
}

// =============================================================================
// 持久化记录
// =============================================================================

// Params 池参数 (初始化后不变)
type Params struct {
	Admin               account.Address
	PoolAsset           account.Address // 基础资产 (借出/还款/LP 存入)
	BorrowRateBps       int64           // 每个计息周期的利率
	LiquidationBonusBps int64           // 清算奖励 (只用于事件)
	MaxLeverageBps      int64           // 记录并对外报告，不参与校验
	MinHealthBps        int64           // 清算阈值
}

// PoolState 池总账 (单例)
type PoolState struct {
	TotalLiquidity int64
	TotalBorrowed  int64
	TotalShares    int64
}

// Available 可借出 / 可赎回的流动性
func (p PoolState) Available() int64 { return p.TotalLiquidity - p.TotalBorrowed }

// CollateralConfig 保证金资产配置
type CollateralConfig struct {
	CollateralFactorBps int64  // 抵押率
	PriceFeedKey        string // 预言机喂价 key
	IsActive            bool
}

// Position 杠杆仓位 (每个用户最多一个)
type Position struct {
	ID               int64 // 仓位编号 (snowflake)
	User             account.Address
	BorrowedAmount   int64 // 当前负债 (含已计利息)
	CollateralToken  account.Address
	CollateralAmount int64 // 开仓时锁定的保证金
	OpenedAt         uint64
	LastInterestTick uint64
	Direction        Direction
}

// Clone 复制仓位
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// BalanceKey 保证金余额键
type BalanceKey struct {
	User  account.Address
	Asset account.Address
}

// =============================================================================
// 外部参数 / 查询结果
// =============================================================================

// PoolStats 池统计
type PoolStats struct {
	TotalLiquidity       int64
	TotalBorrowed        int64
	TotalShares          int64
	UtilizationRateBps   int64
	CurrentBorrowRateBps int64
	MaxLeverageBps       int64
	OpenPositions        int
}

// PriceData 预言机报价
type PriceData struct {
	Price     int64  // PriceScale 定点
	Timestamp uint64 // 报价时间 (unix 秒)
}
