package pool

import (
	"time"

	"levpool.com/pkg/account"
)

// EventKind 事件类型
type EventKind string

const (
	EventInitialized        EventKind = "initialized"
	EventCollateralTypeSet  EventKind = "collateral_type_set"
	EventLPDeposit          EventKind = "lp_deposit"
	EventLPWithdraw         EventKind = "lp_withdraw"
	EventCollateralDeposit  EventKind = "collateral_deposit"
	EventCollateralWithdraw EventKind = "collateral_withdraw"
	EventPositionOpened     EventKind = "position_opened"
	EventInterestAccrued    EventKind = "interest_accrued"
	EventPositionClosed     EventKind = "position_closed"
	EventLiquidation        EventKind = "liquidation"
)

// Event 状态变更事件
//
// 只填与事件类型相关的字段，其余为零值
type Event struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	Sequence   uint64          `json:"sequence"`
	User       account.Address `json:"user,omitempty"`
	Liquidator account.Address `json:"liquidator,omitempty"`
	Asset      account.Address `json:"asset,omitempty"`
	Amount     int64           `json:"amount,omitempty"`
	Shares     int64           `json:"shares,omitempty"`
	PositionID int64           `json:"position_id,omitempty"`
	Borrowed   int64           `json:"borrowed,omitempty"`
	Collateral int64           `json:"collateral,omitempty"`
	Direction  string          `json:"direction,omitempty"`
	PnL        int64           `json:"pnl,omitempty"`
	Interest   int64           `json:"interest,omitempty"`
	Bonus      int64           `json:"bonus,omitempty"`
	Health     int64           `json:"health,omitempty"`
	Price      int64           `json:"price,omitempty"`
	At         time.Time       `json:"at"`
}
