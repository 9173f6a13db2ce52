// 文件: pkg/pool/engine.go
// 杠杆借贷池引擎 - 单线程执行器
//
// 核心设计:
// 1. 单线程模型: 所有操作由一个 goroutine 串行执行，池总账只有它能修改
// 2. 命令队列: 外部调用封装为命令，通过 Channel 提交并等待结果
// 3. 事务提交: 转账 -> 持久化 -> 内存状态，任一步失败整体回滚

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"levpool.com/pkg/account"
)

// 默认命令队列长度
const defaultQueueLen = 1024

// Config 引擎配置
type Config struct {
	// Custody 池自身的托管账户，所有存入资产都转到这里
	Custody account.Address

	Assets   AssetTransfer    // 必填
	Oracle   PriceOracle      // 必填
	Sessions SessionAuthority // 必填
	Clock    Clock            // 必填

	Store     Store       // 默认 MemStore
	Publisher Publisher   // 默认丢弃
	IDs       IDGenerator // 默认自增
	Observer  Observer    // 默认空
	Logger    *zap.Logger // 默认 Nop

	QueueLen int
}

// command 执行循环中的一个命令
type command struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Engine 杠杆借贷池引擎
type Engine struct {
	cfg Config
	log *zap.Logger
	st  *state

	cmdCh chan command

	running atomic.Bool
	life    atomic.Pointer[lifecycle] // 每次 Start 重建
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// lifecycle 一次运行周期的信号
type lifecycle struct {
	closeCh chan struct{} // 通知循环退出
	doneCh  chan struct{} // 循环已退出
}

func newLifecycle() *lifecycle {
	return &lifecycle{closeCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// NewEngine 创建引擎 (需要 Start 后才能处理命令)
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Custody.IsZero():
		return nil, errors.New("pool: custody account required")
	case cfg.Assets == nil:
		return nil, errors.New("pool: asset transfer required")
	case cfg.Oracle == nil:
		return nil, errors.New("pool: price oracle required")
	case cfg.Sessions == nil:
		return nil, errors.New("pool: session authority required")
	case cfg.Clock == nil:
		return nil, errors.New("pool: clock required")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemStore()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.IDs == nil {
		cfg.IDs = &seqIDs{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = defaultQueueLen
	}

	e := &Engine{
		cfg:   cfg,
		log:   cfg.Logger.Named("pool"),
		st:    newState(),
		cmdCh: make(chan command, cfg.QueueLen),
	}
	e.life.Store(newLifecycle())
	return e, nil
}

// Start 从 Store 加载状态并启动执行循环
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	snap, err := e.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	e.st = newState()
	e.st.apply(snap)

	life := newLifecycle()
	e.life.Store(life)
	e.running.Store(true)
	e.wg.Add(1)
	go e.loop(life)

	e.log.Info("[Pool] started",
		zap.Bool("initialized", e.st.params != nil),
		zap.Int("positions", len(e.st.positions)),
		zap.Int64("total_liquidity", e.st.pool.TotalLiquidity),
		zap.Int64("total_borrowed", e.st.pool.TotalBorrowed))
	return nil
}

// Stop 停止执行循环，队列中剩余命令会被处理完
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Swap(false) {
		return
	}
	close(e.life.Load().closeCh)
	e.wg.Wait()
	e.log.Info("[Pool] stopped")
}

// loop 命令处理主循环 (单线程)
func (e *Engine) loop(life *lifecycle) {
	defer e.wg.Done()
	defer close(life.doneCh)

	for {
		select {
		case <-life.closeCh:
			e.drain()
			return
		case cmd := <-e.cmdCh:
			e.handle(cmd)
		}
	}
}

// drain 关闭时处理剩余命令
func (e *Engine) drain() {
	for {
		select {
		case cmd := <-e.cmdCh:
			e.handle(cmd)
		default:
			return
		}
	}
}

func (e *Engine) handle(cmd command) {
	var err error
	if cerr := cmd.ctx.Err(); cerr != nil {
		err = cerr
	} else {
		err = cmd.fn(cmd.ctx)
	}
	cmd.result <- err
}

// submit 提交命令并等待结果
func (e *Engine) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if !e.running.Load() {
		return ErrEngineClosed
	}
	life := e.life.Load()
	cmd := command{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-life.closeCh:
		return ErrEngineClosed
	}

	// 已入队的命令会被执行，除非循环在入队前已经 drain 完毕
	select {
	case err := <-cmd.result:
		return err
	case <-life.doneCh:
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrEngineClosed
		}
	}
}

// =============================================================================
// 事务执行
// =============================================================================

// exec 执行一个写操作
func (e *Engine) exec(ctx context.Context, op string, body func(t *txn) error) error {
	err := e.submit(ctx, func(ctx context.Context) error {
		t := newTxn(e.st, e.cfg.Clock.Sequence())
		if err := body(t); err != nil {
			return err
		}
		return e.commit(ctx, op, t)
	})
	e.cfg.Observer.ObserveOp(op, err)
	if err != nil {
		e.log.Debug("[Pool] op rejected", zap.String("op", op), zap.Uint32("code", Code(err)), zap.Error(err))
	}
	return err
}

// query 执行一个只读操作，读到的记录会续期
func (e *Engine) query(ctx context.Context, body func(t *txn) error) error {
	return e.submit(ctx, func(ctx context.Context) error {
		t := newTxn(e.st, e.cfg.Clock.Sequence())
		if err := body(t); err != nil {
			return err
		}
		e.touch(ctx, t)
		return nil
	})
}

// commit 提交事务
//
// 1. 执行外部转账 (失败时补偿已执行的部分)
// 2. 写 Store (失败时补偿全部转账)
// 3. 合并到内存状态
// 4. 续期读到的记录，发布事件
func (e *Engine) commit(ctx context.Context, op string, t *txn) error {
	done, err := executeTransfers(ctx, e.cfg.Assets, e.cfg.Custody, t.transfers)
	if err != nil {
		e.rollback(ctx, op, t.transfers[:done])
		return err
	}

	if !t.cs.Empty() {
		if err := e.cfg.Store.Apply(ctx, t.cs); err != nil {
			e.rollback(ctx, op, t.transfers)
			return fmt.Errorf("persist %s: %w", op, err)
		}
		e.st.apply(t.cs)
	}

	e.touch(ctx, t)
	e.publish(ctx, t.events)
	e.cfg.Observer.ObservePool(e.stats())
	return nil
}

func (e *Engine) rollback(ctx context.Context, op string, ts []transfer) {
	if len(ts) == 0 {
		return
	}
	for _, err := range compensate(context.WithoutCancel(ctx), e.cfg.Assets, ts) {
		// 补偿失败意味着托管账户与账本不一致，需要人工介入
		e.log.Error("[Pool] compensation failed", zap.String("op", op), zap.Error(err))
	}
}

func (e *Engine) touch(ctx context.Context, t *txn) {
	if len(t.reads) == 0 {
		return
	}
	if err := e.cfg.Store.Touch(ctx, t.now(), t.reads...); err != nil {
		e.log.Warn("[Pool] retention bump failed", zap.Int("records", len(t.reads)), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, events []Event) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	for _, ev := range events {
		ev.ID = uuid.NewString()
		ev.At = now
		if err := e.cfg.Publisher.Publish(ctx, ev); err != nil {
			e.log.Warn("[Pool] publish event failed", zap.String("kind", string(ev.Kind)), zap.String("user", ev.User.String()), zap.Error(err))
		}
	}
}

// =============================================================================
// 公共校验
// =============================================================================

// requireSigner 要求 addr 签名
func requireSigner(ctx context.Context, addr account.Address) error {
	if err := account.Require(ctx, addr); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// requireAgent 要求 user 的代理会话有效，且委托公钥签名了本次调用
func (e *Engine) requireAgent(ctx context.Context, user account.Address) error {
	valid, err := e.cfg.Sessions.IsSessionValid(ctx, user)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAgentSessionInvalid, user, err)
	}
	if !valid {
		return fmt.Errorf("%w: %s", ErrAgentSessionInvalid, user)
	}
	pub, ok, err := e.cfg.Sessions.DelegatedSigner(ctx, user)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAgentSessionInvalid, user, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s has no delegated signer", ErrAgentSessionInvalid, user)
	}
	agent, err := account.FromPublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAgentSessionInvalid, err)
	}
	return requireSigner(ctx, agent)
}

// price 读取保证金现价
func (e *Engine) price(ctx context.Context, cfg CollateralConfig) (int64, error) {
	pd, ok, err := e.cfg.Oracle.LastPrice(ctx, cfg.PriceFeedKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrOracleCallFailed, cfg.PriceFeedKey, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", ErrOracleCallFailed, cfg.PriceFeedKey)
	}
	if pd.Price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %d for %s", ErrOracleCallFailed, pd.Price, cfg.PriceFeedKey)
	}
	return pd.Price, nil
}

// stats 当前池统计 (只在执行循环中调用)
func (e *Engine) stats() PoolStats {
	st := e.st.pool
	s := PoolStats{
		TotalLiquidity:     st.TotalLiquidity,
		TotalBorrowed:      st.TotalBorrowed,
		TotalShares:        st.TotalShares,
		UtilizationRateBps: Utilization(st),
		OpenPositions:      len(e.st.positions),
	}
	if p := e.st.params; p != nil {
		s.CurrentBorrowRateBps = p.BorrowRateBps
		s.MaxLeverageBps = p.MaxLeverageBps
	}
	return s
}
