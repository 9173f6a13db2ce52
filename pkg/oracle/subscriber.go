// 文件: pkg/oracle/subscriber.go
// 行情订阅: NATS 报价消息 -> PriceSink
//
//	subject: oracle.price.{key}
//	payload: {"key":"XLM","price":1200000,"ts":1700000000}

package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	lpnats "levpool.com/pkg/nats"
)

const (
	// SubjectPrefix 报价主题前缀
	SubjectPrefix = "oracle.price."
	// SubjectAll 订阅全部报价
	SubjectAll = SubjectPrefix + ">"
)

// Tick 一条报价消息
type Tick struct {
	Key   string `json:"key"`
	Price int64  `json:"price"`
	TS    uint64 `json:"ts"`
}

// Subject 报价消息的主题
func Subject(key string) string { return SubjectPrefix + key }

// TickHandler 把报价消息写入 sink，可直接作为 nats.MessageHandler
func TickHandler(sink PriceSink, logger *zap.Logger) lpnats.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(subject string, data []byte) error {
		tick, err := lpnats.UnmarshalJSON[Tick](data)
		if err != nil {
			return fmt.Errorf("decode tick: %w", err)
		}
		if tick.Key == "" {
			tick.Key = strings.TrimPrefix(subject, SubjectPrefix)
		}
		if err := sink.SetPrice(context.Background(), tick.Key, tick.Price, tick.TS); err != nil {
			return err
		}
		logger.Debug("[Oracle] price updated", zap.String("key", tick.Key), zap.Int64("price", tick.Price))
		return nil
	}
}

// PublishTick 发布一条报价
func PublishTick(p *lpnats.Publisher, t Tick) error {
	return p.Publish(Subject(t.Key), t)
}
