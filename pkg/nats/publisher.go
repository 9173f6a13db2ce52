// 文件: pkg/nats/publisher.go
// NATS 消息发布者
// 事件广播与行情推送共用

package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect 建立连接，断线自动重连
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Publisher NATS 发布者
type Publisher struct {
	conn  *nats.Conn
	owned bool // 连接由本对象创建，Close 时关闭
}

// NewPublisher 创建发布者 (独占连接)
func NewPublisher(url string) (*Publisher, error) {
	conn, err := Connect(url, "levpool-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, owned: true}, nil
}

// NewPublisherWithConn 复用已有连接
func NewPublisherWithConn(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish 发布 JSON 消息
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return p.conn.Publish(subject, bytes)
}

// PublishRaw 发布原始消息
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Flush 等待已发布消息写出
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.conn.FlushTimeout(timeout)
}

// Close 关闭连接
func (p *Publisher) Close() {
	if p.owned {
		p.conn.Close()
	}
}
