// 文件: pkg/alert/model.go
// 报价预警
//
// 用户在保证金报价上设置价位 (通常是自己仓位的清算价附近)，
// 报价穿越价位时推送通知:
//
//	上涨 -> 触发 Above 且 Price <= 现价 的规则
//	下跌 -> 触发 Below 且 Price >= 现价 的规则

package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"levpool.com/pkg/account"
)

var (
	ErrInvalidRule  = errors.New("invalid alert rule")
	ErrRuleNotFound = errors.New("alert rule not found")
)

// AlertType 预警生命周期
type AlertType string

const (
	AlertOnce   AlertType = "once"   // 触发一次后移出索引
	AlertDaily  AlertType = "daily"  // 每 24 小时最多触发一次
	AlertAlways AlertType = "always" // 每次满足都触发，带短冷却
)

// AlwaysCooldown AlertAlways 的冷却时间
const AlwaysCooldown = 60 * time.Second

// Cooldown 两次触发的最小间隔，0 表示不会重复触发
func (t AlertType) Cooldown() time.Duration {
	switch t {
	case AlertDaily:
		return 24 * time.Hour
	case AlertAlways:
		return AlwaysCooldown
	}
	return 0
}

// Direction 穿越方向
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// Rule 预警规则
type Rule struct {
	ID        string          `json:"id"`
	User      account.Address `json:"user"`
	FeedKey   string          `json:"feed_key"`
	Direction Direction       `json:"direction"`
	Price     int64           `json:"price"` // PriceScale 精度
	Type      AlertType       `json:"type"`
	CreatedAt int64           `json:"created_at"`
}

// Validate 校验规则
func (r Rule) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id required", ErrInvalidRule)
	case strings.Contains(r.ID, ":"):
		return fmt.Errorf("%w: id must not contain ':'", ErrInvalidRule)
	case r.User.IsZero():
		return fmt.Errorf("%w: user required", ErrInvalidRule)
	case r.FeedKey == "":
		return fmt.Errorf("%w: feed key required", ErrInvalidRule)
	case r.Direction != Above && r.Direction != Below:
		return fmt.Errorf("%w: direction %q", ErrInvalidRule, r.Direction)
	case r.Price <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidRule)
	}
	switch r.Type {
	case AlertOnce, AlertDaily, AlertAlways:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidRule, r.Type)
	}
	return nil
}

// directionOf 价格走势对应的规则方向，价格不变返回 false
func directionOf(current, last int64) (Direction, bool) {
	switch {
	case current > last:
		return Above, true
	case current < last:
		return Below, true
	}
	return "", false
}

// crossed 规则是否被本次走势穿越
func (r Rule) crossed(current int64) bool {
	if r.Direction == Above {
		return r.Price <= current
	}
	return r.Price >= current
}

// Manager 预警存储
type Manager interface {
	Subscribe(ctx context.Context, rule Rule) error
	Unsubscribe(ctx context.Context, id string) error
	// Triggered 报价从 last 变到 current 时触发的规则
	Triggered(ctx context.Context, feedKey string, current, last int64) ([]Rule, error)
}
