// 文件: pkg/storage/event_repo.go
// 事件流水仓储

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"levpool.com/pkg/pool"
)

// EventRepo 事件流水
type EventRepo struct {
	db *gorm.DB
}

// NewEventRepo 创建仓储
func NewEventRepo(db *gorm.DB) *EventRepo {
	return &EventRepo{db: db}
}

// Append 写入事件，重复 ID 忽略 (消息可能重投)
func (r *EventRepo) Append(ctx context.Context, ev pool.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	row := EventRow{
		ID:         ev.ID,
		Kind:       string(ev.Kind),
		Sequence:   ev.Sequence,
		User:       ev.User.String(),
		Liquidator: ev.Liquidator.String(),
		Asset:      ev.Asset.String(),
		PositionID: ev.PositionID,
		Amount:     ev.Amount,
		Shares:     ev.Shares,
		Borrowed:   ev.Borrowed,
		Collateral: ev.Collateral,
		PnL:        ev.PnL,
		Interest:   ev.Interest,
		Bonus:      ev.Bonus,
		Health:     ev.Health,
		Price:      ev.Price,
		Payload:    string(payload),
		CreatedAt:  ev.At,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// EventFilter 查询条件
type EventFilter struct {
	User  string
	Kind  pool.EventKind
	Limit int
}

// List 按账本序号升序返回事件
func (r *EventRepo) List(ctx context.Context, f EventFilter) ([]pool.Event, error) {
	q := r.db.WithContext(ctx).Model(&EventRow{})
	if f.User != "" {
		q = q.Where("account = ?", f.User)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []EventRow
	if err := q.Order("sequence ASC").Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]pool.Event, 0, len(rows))
	for _, row := range rows {
		var ev pool.Event
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", row.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Count 事件数
func (r *EventRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&EventRow{}).Count(&n).Error
	return n, err
}
