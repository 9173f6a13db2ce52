package keeper

import (
	"time"

	"levpool.com/pkg/account"
	"levpool.com/pkg/pool"
)

// =============================================================================
// 风险等级
// =============================================================================

// RiskLevel 仓位风险等级
//
// 按健康度相对清算线 (MinHealthBps) 的距离分级:
// - Safe: >= 开仓线 (150%)
// - Warning: [125%, 150%)
// - Danger: [110%, 125%)
// - Critical: [100%, 110%)，价格变化时立即复查
// - Liquidate: < 100%，进入清算队列
type RiskLevel int

const (
	RiskLevelSafe RiskLevel = iota
	RiskLevelWarning
	RiskLevelDanger
	RiskLevelCritical
	RiskLevelLiquidate
)

// 各等级下限 (清算线的百分比)
const (
	ThresholdWarningPct  = pool.OpenHealthMarginPct
	ThresholdDangerPct   = 125
	ThresholdCriticalPct = 110
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelSafe:
		return "SAFE"
	case RiskLevelWarning:
		return "WARNING"
	case RiskLevelDanger:
		return "DANGER"
	case RiskLevelCritical:
		return "CRITICAL"
	case RiskLevelLiquidate:
		return "LIQUIDATE"
	default:
		return "UNKNOWN"
	}
}

// Classify 根据健康度与清算线计算等级
func Classify(health, minHealthBps int64) RiskLevel {
	floor := func(pct int64) int64 { return minHealthBps * pct / 100 }
	switch {
	case health < minHealthBps:
		return RiskLevelLiquidate
	case health < floor(ThresholdCriticalPct):
		return RiskLevelCritical
	case health < floor(ThresholdDangerPct):
		return RiskLevelDanger
	case health < floor(ThresholdWarningPct):
		return RiskLevelWarning
	default:
		return RiskLevelSafe
	}
}

// =============================================================================
// 监控数据与任务
// =============================================================================

// Watch 索引中的仓位
type Watch struct {
	User             account.Address
	CollateralToken  account.Address
	PriceFeedKey     string
	Health           int64
	Level            RiskLevel
	LastInterestTick uint64
	UpdatedAt        time.Time
}

// TaskKind 任务类型
type TaskKind int

const (
	TaskLiquidate TaskKind = iota + 1
	TaskAccrue
)

func (k TaskKind) String() string {
	switch k {
	case TaskLiquidate:
		return "liquidate"
	case TaskAccrue:
		return "accrue"
	}
	return "unknown"
}

// Task 清算 / 计息任务
type Task struct {
	Kind      TaskKind
	User      account.Address
	Health    int64
	CreatedAt time.Time
}

// Stats 统计
type Stats struct {
	Watched     int
	Warning     int
	Danger      int
	Critical    int
	QueuedTasks int
	Liquidated  int64
	Accrued     int64
	Failed      int64
	Dropped     int64
}
