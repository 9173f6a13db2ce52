// 文件: pkg/events/publisher.go
// 池事件发布
//
// 引擎提交成功后按顺序发布事件:
// - NATS: levpool.events.{kind}，供行情 / 通知等实时订阅
// - Kafka: 单个 topic，key 为用户地址，同一用户的事件有序
// - Multi: 同时发布到多个目标

package events

import (
	"context"
	"encoding/json"
	"errors"

	"levpool.com/pkg/kafka"
	lpnats "levpool.com/pkg/nats"
	"levpool.com/pkg/pool"
)

const (
	// SubjectPrefix NATS 主题前缀
	SubjectPrefix = "levpool.events."
	// SubjectAll 订阅全部事件
	SubjectAll = SubjectPrefix + ">"

	// DefaultTopic Kafka topic
	DefaultTopic = "levpool.events"
)

// Subject 事件对应的 NATS 主题
func Subject(kind pool.EventKind) string {
	return SubjectPrefix + string(kind)
}

// =============================================================================
// NATS
// =============================================================================

var _ pool.Publisher = (*NatsPublisher)(nil)

// NatsPublisher 发布到 NATS
type NatsPublisher struct {
	pub *lpnats.Publisher
}

// NewNatsPublisher 创建发布者
func NewNatsPublisher(pub *lpnats.Publisher) *NatsPublisher {
	return &NatsPublisher{pub: pub}
}

// Publish 实现 pool.Publisher
func (p *NatsPublisher) Publish(_ context.Context, ev pool.Event) error {
	return p.pub.Publish(Subject(ev.Kind), ev)
}

// =============================================================================
// Kafka
// =============================================================================

var _ pool.Publisher = (*KafkaPublisher)(nil)

// message 实现 kafka.Message
type message struct {
	topic string
	ev    pool.Event
}

func (m message) Topic() string { return m.topic }

// Key 按用户分区，无用户的池级事件落在同一分区
func (m message) Key() string {
	if m.ev.User.IsZero() {
		return "pool"
	}
	return m.ev.User.String()
}

func (m message) Value() ([]byte, error) { return json.Marshal(m.ev) }

// KafkaPublisher 发布到 Kafka
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaPublisher 创建发布者，topic 为空时使用 DefaultTopic
func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish 实现 pool.Publisher
func (p *KafkaPublisher) Publish(_ context.Context, ev pool.Event) error {
	return p.producer.Send(message{topic: p.topic, ev: ev})
}

// =============================================================================
// Multi
// =============================================================================

// Multi 依次发布到所有目标，错误合并返回
type Multi []pool.Publisher

// Publish 实现 pool.Publisher
func (m Multi) Publish(ctx context.Context, ev pool.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
