// 文件: pkg/pool/collaborators.go
// 外部协作方接口
//
// 引擎不关心资产、预言机、会话如何实现，只依赖以下接口

package pool

import (
	"context"
	"crypto/ed25519"
	"sync/atomic"

	"levpool.com/pkg/account"
)

// AssetTransfer 资产转账
//
// 余额不足或 from 未签名时必须整体失败，不产生部分转账
type AssetTransfer interface {
	Transfer(ctx context.Context, asset, from, to account.Address, amount int64) error
}

// PriceOracle 预言机
//
// ok == false 表示该 key 暂无报价
type PriceOracle interface {
	LastPrice(ctx context.Context, key string) (price PriceData, ok bool, err error)
}

// SessionAuthority 代理会话
type SessionAuthority interface {
	IsSessionValid(ctx context.Context, user account.Address) (bool, error)
	DelegatedSigner(ctx context.Context, user account.Address) (ed25519.PublicKey, bool, error)
}

// Clock 账本序号
type Clock interface {
	Sequence() uint64
}

// Publisher 事件发布 (提交后调用，失败只记日志)
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// IDGenerator 仓位编号生成器
type IDGenerator interface {
	NextID() int64
}

// Observer 操作观测 (metrics)
type Observer interface {
	ObserveOp(op string, err error)
	ObservePool(stats PoolStats)
}

// =============================================================================
// 空实现
// =============================================================================

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopObserver struct{}

func (nopObserver) ObserveOp(string, error) {}
func (nopObserver) ObservePool(PoolStats)   {}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NextID() int64 { return s.n.Add(1) }
