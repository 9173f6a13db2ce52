// 文件: pkg/events/recorder.go
// 事件落库
//
// 订阅 NATS (队列组) 或 Kafka (消费者组) 上的池事件，写入事件流水表。
// 同一事件可能重投，Sink 需要按事件 ID 去重。

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	lpnats "levpool.com/pkg/nats"
	"levpool.com/pkg/pool"
)

// RecorderQueue NATS 队列组名，多实例时只有一个实例落库
const RecorderQueue = "event-recorder"

// writeTimeout 单条写入超时
const writeTimeout = 5 * time.Second

// Sink 事件存储
type Sink interface {
	Append(ctx context.Context, ev pool.Event) error
}

// RecorderStats 统计
type RecorderStats struct {
	Received int64
	Written  int64
	Errors   int64
}

// Recorder 事件落库
type Recorder struct {
	sink Sink
	log  *zap.Logger
	sub  *lpnats.Subscriber

	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
}

// NewRecorder 创建 Recorder
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{sink: sink, log: logger.Named("recorder")}
}

// StartNATS 以队列组方式订阅全部事件，sub 的处理函数须为 r.HandleNATS
func (r *Recorder) StartNATS(sub *lpnats.Subscriber) error {
	if err := sub.SubscribeQueue(SubjectAll, RecorderQueue); err != nil {
		return err
	}
	r.sub = sub
	r.log.Info("[Recorder] subscribed", zap.String("subject", SubjectAll), zap.String("queue", RecorderQueue))
	return nil
}

// Stop 取消 NATS 订阅
func (r *Recorder) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Close()
}

// HandleNATS 实现 nats.MessageHandler
func (r *Recorder) HandleNATS(subject string, data []byte) error {
	if !strings.HasPrefix(subject, SubjectPrefix) {
		return nil
	}
	return r.record(data)
}

// HandleKafka 实现 kafka.MessageHandler
func (r *Recorder) HandleKafka(topic string, partition int32, offset int64, key, value []byte) error {
	if err := r.record(value); err != nil {
		return fmt.Errorf("%s/%d@%d: %w", topic, partition, offset, err)
	}
	return nil
}

func (r *Recorder) record(data []byte) error {
	r.received.Add(1)

	var ev pool.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.errors.Add(1)
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.ID == "" || ev.Kind == "" {
		r.errors.Add(1)
		return fmt.Errorf("malformed event: id=%q kind=%q", ev.ID, ev.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.Append(ctx, ev); err != nil {
		r.errors.Add(1)
		r.log.Error("[Recorder] append failed", zap.String("id", ev.ID), zap.String("kind", string(ev.Kind)), zap.Error(err))
		return err
	}
	r.written.Add(1)
	return nil
}

// Stats 统计
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Received: r.received.Load(),
		Written:  r.written.Load(),
		Errors:   r.errors.Load(),
	}
}
