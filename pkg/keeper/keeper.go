// 文件: pkg/keeper/keeper.go
// 清算与计息守护进程
//
// 架构:
//
//	┌──────────────────────────────────────────────┐
//	│                   Keeper                     │
//	│                                              │
//	│  ┌─────────┐  ┌──────────────┐  ┌─────────┐  │
//	│  │ Scanner │  │ Price Trigger│  │ Workers │  │
//	│  └────┬────┘  └──────┬───────┘  └────┬────┘  │
//	│       └──────────────┴─────── Task Queue     │
//	│                      │                       │
//	│                    Index                     │
//	└──────────────────────────────────────────────┘
//
// - Scanner: 定期全量扫描仓位，重建风险索引；不健康的入清算队列，久未计息的入计息队列
// - Price Trigger: 报价更新时复查使用该报价的 Critical 仓位
// - Workers: 以守护进程账户签名调用 Liquidate / AccrueInterest

package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"levpool.com/pkg/account"
	"levpool.com/pkg/pool"
)

// =============================================================================
// 配置
// =============================================================================

const (
	DefaultScanInterval = 5 * time.Second
	DefaultWorkers      = 4
	DefaultQueueSize    = 100
	DefaultTaskTimeout  = 30 * time.Second

	// DefaultAccrueAfter 仓位超过一个计息周期未计息时主动计息
	DefaultAccrueAfter = pool.InterestPeriod

	priceQueueSize = 64
)

// Config 守护进程配置
type Config struct {
	Liquidator   account.Address // 清算人账户，需持有池资产用于偿还负债
	ScanInterval time.Duration
	AccrueAfter  uint64 // 账本数，0 关闭主动计息
	Workers      int
	QueueSize    int
	TaskTimeout  time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig(liquidator account.Address) Config {
	return Config{
		Liquidator:   liquidator,
		ScanInterval: DefaultScanInterval,
		AccrueAfter:  DefaultAccrueAfter,
		Workers:      DefaultWorkers,
		QueueSize:    DefaultQueueSize,
		TaskTimeout:  DefaultTaskTimeout,
	}
}

// Pool 守护进程依赖的池操作
type Pool interface {
	GetParams(ctx context.Context) (pool.Params, error)
	ListPositions(ctx context.Context) ([]pool.Position, error)
	GetHealthRatio(ctx context.Context, user account.Address) (int64, error)
	GetCollateralConfig(ctx context.Context, token account.Address) (pool.CollateralConfig, error)
	Liquidate(ctx context.Context, liquidator, user account.Address) (pool.LiquidationResult, error)
	AccrueInterest(ctx context.Context, user account.Address) (int64, error)
}

// Metrics 守护进程指标
type Metrics interface {
	TaskDone(kind TaskKind, err error)
	TaskDropped(kind TaskKind)
	RiskLevels(stats Stats)
}

type nopMetrics struct{}

func (nopMetrics) TaskDone(TaskKind, error) {}
func (nopMetrics) TaskDropped(TaskKind)     {}
func (nopMetrics) RiskLevels(Stats)         {}

type taskKey struct {
	kind TaskKind
	user account.Address
}

// =============================================================================
// Keeper
// =============================================================================

// Keeper 清算与计息守护进程
type Keeper struct {
	pool    Pool
	clock   pool.Clock
	cfg     Config
	log     *zap.Logger
	metrics Metrics

	index   *Index
	queue   chan Task
	priceCh chan string
	pending sync.Map // taskKey -> struct{}，队列中已有的任务不重复入队

	liquidated atomic.Int64
	accrued    atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64

	running   atomic.Bool
	started   bool // 只能启动一次
	stopCh    chan struct{}
	producers sync.WaitGroup // scanner + price trigger
	workers   sync.WaitGroup
	mu        sync.Mutex

	queueMu     sync.RWMutex // 入队与关闭队列互斥
	queueClosed bool
}

// New 创建守护进程
func New(p Pool, clock pool.Clock, cfg Config, metrics Metrics, logger *zap.Logger) (*Keeper, error) {
	if cfg.Liquidator.IsZero() {
		return nil, errors.New("keeper: liquidator account required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Keeper{
		pool:    p,
		clock:   clock,
		cfg:     cfg,
		log:     logger.Named("keeper"),
		metrics: metrics,
		index:   NewIndex(),
		queue:   make(chan Task, cfg.QueueSize),
		priceCh: make(chan string, priceQueueSize),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动扫描、价格触发与 Worker Pool (停止后不能再次启动)
func (k *Keeper) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return
	}
	k.started = true
	k.running.Store(true)

	for i := 0; i < k.cfg.Workers; i++ {
		k.workers.Add(1)
		go k.runWorker(i)
	}
	k.producers.Add(2)
	go k.runScanner()
	go k.runPriceTrigger()

	k.log.Info("[Keeper] started",
		zap.String("liquidator", k.cfg.Liquidator.String()),
		zap.Duration("scan_interval", k.cfg.ScanInterval),
		zap.Int("workers", k.cfg.Workers))
}

// Stop 停止；先停生产者再关闭队列，Worker 处理完剩余任务后退出
func (k *Keeper) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running.Swap(false) {
		return
	}
	close(k.stopCh)
	k.producers.Wait()
	k.queueMu.Lock()
	k.queueClosed = true
	close(k.queue)
	k.queueMu.Unlock()
	k.workers.Wait()
	k.log.Info("[Keeper] stopped")
}

// OnPrice 报价更新回调，不阻塞调用方
func (k *Keeper) OnPrice(key string, _ pool.PriceData) {
	if !k.running.Load() {
		return
	}
	select {
	case k.priceCh <- key:
	default:
	}
}

// =============================================================================
// 扫描
// =============================================================================

func (k *Keeper) runScanner() {
	defer k.producers.Done()

	ticker := time.NewTicker(k.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if err := k.ScanOnce(context.Background()); err != nil && !errors.Is(err, pool.ErrNotInitialized) {
			k.log.Warn("[Keeper] scan failed", zap.Error(err))
		}
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce 全量扫描一次并重建索引；停止后只重建索引，不再入队
func (k *Keeper) ScanOnce(ctx context.Context) error {
	params, err := k.pool.GetParams(ctx)
	if err != nil {
		return err
	}
	positions, err := k.pool.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}

	now := k.clock.Sequence()
	feeds := make(map[account.Address]string)
	watches := make([]Watch, 0, len(positions))

	for _, pos := range positions {
		key, ok := feeds[pos.CollateralToken]
		if !ok {
			cfg, err := k.pool.GetCollateralConfig(ctx, pos.CollateralToken)
			if err != nil {
				k.log.Warn("[Keeper] collateral config", zap.String("token", pos.CollateralToken.String()), zap.Error(err))
				continue
			}
			key = cfg.PriceFeedKey
			feeds[pos.CollateralToken] = key
		}

		health, err := k.pool.GetHealthRatio(ctx, pos.User)
		if err != nil {
			k.log.Warn("[Keeper] health check failed", zap.String("user", pos.User.String()), zap.Error(err))
			continue
		}

		w := Watch{
			User:             pos.User,
			CollateralToken:  pos.CollateralToken,
			PriceFeedKey:     key,
			Health:           health,
			Level:            Classify(health, params.MinHealthBps),
			LastInterestTick: pos.LastInterestTick,
			UpdatedAt:        time.Now(),
		}
		watches = append(watches, w)

		switch {
		case w.Level == RiskLevelLiquidate:
			k.enqueue(Task{Kind: TaskLiquidate, User: pos.User, Health: health, CreatedAt: time.Now()})
		case k.cfg.AccrueAfter > 0 && pool.ElapsedLedgers(pos.LastInterestTick, now) >= k.cfg.AccrueAfter:
			k.enqueue(Task{Kind: TaskAccrue, User: pos.User, Health: health, CreatedAt: time.Now()})
		}
	}

	k.index.Replace(watches)
	k.metrics.RiskLevels(k.Stats())
	return nil
}

// =============================================================================
// 价格触发
// =============================================================================

func (k *Keeper) runPriceTrigger() {
	defer k.producers.Done()
	for {
		select {
		case <-k.stopCh:
			return
		case key := <-k.priceCh:
			k.recheck(context.Background(), key)
		}
	}
}

// recheck 复查使用该报价的 Critical 仓位
func (k *Keeper) recheck(ctx context.Context, key string) {
	watches := k.index.ByFeed(key, RiskLevelCritical)
	if len(watches) == 0 {
		return
	}
	params, err := k.pool.GetParams(ctx)
	if err != nil {
		return
	}

	updates := make([]Watch, 0, len(watches))
	for _, w := range watches {
		health, err := k.pool.GetHealthRatio(ctx, w.User)
		if err != nil {
			continue
		}
		w.Health = health
		w.Level = Classify(health, params.MinHealthBps)
		w.UpdatedAt = time.Now()
		updates = append(updates, w)

		if w.Level == RiskLevelLiquidate {
			k.log.Info("[Keeper] price trigger",
				zap.String("user", w.User.String()),
				zap.String("feed", key),
				zap.Stringer("health", healthRatio(health)))
			k.enqueue(Task{Kind: TaskLiquidate, User: w.User, Health: health, CreatedAt: time.Now()})
		}
	}
	k.index.BatchUpdate(updates, nil)
}

// =============================================================================
// 任务队列与 Worker Pool
// =============================================================================

// enqueue 非阻塞入队，队列满时丢弃 (下一轮扫描会重新发现)
func (k *Keeper) enqueue(task Task) {
	k.queueMu.RLock()
	defer k.queueMu.RUnlock()
	if k.queueClosed {
		return
	}
	key := taskKey{kind: task.Kind, user: task.User}
	if _, dup := k.pending.LoadOrStore(key, struct{}{}); dup {
		return
	}
	select {
	case k.queue <- task:
	default:
		k.pending.Delete(key)
		k.dropped.Add(1)
		k.metrics.TaskDropped(task.Kind)
		k.log.Warn("[Keeper] queue full, task dropped",
			zap.String("kind", task.Kind.String()), zap.String("user", task.User.String()))
	}
}

func (k *Keeper) runWorker(id int) {
	defer k.workers.Done()
	for task := range k.queue {
		k.execute(id, task)
		k.pending.Delete(taskKey{kind: task.Kind, user: task.User})
	}
}

func (k *Keeper) execute(id int, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), k.cfg.TaskTimeout)
	defer cancel()
	ctx = account.WithSigners(ctx, k.cfg.Liquidator)

	var err error
	switch task.Kind {
	case TaskLiquidate:
		var res pool.LiquidationResult
		res, err = k.pool.Liquidate(ctx, k.cfg.Liquidator, task.User)
		if err == nil {
			k.liquidated.Add(1)
			k.log.Info("[Keeper] liquidated",
				zap.Int("worker", id),
				zap.String("user", task.User.String()),
				zap.Stringer("health", healthRatio(res.Health)),
				zap.Int64("debt", res.Debt),
				zap.Int64("collateral", res.Collateral))
		}
	case TaskAccrue:
		var interest int64
		interest, err = k.pool.AccrueInterest(ctx, task.User)
		if err == nil {
			k.accrued.Add(1)
			k.log.Debug("[Keeper] accrued", zap.String("user", task.User.String()), zap.Int64("interest", interest))
		}
	}

	// 扫描与执行之间仓位可能已关闭或恢复健康
	if errors.Is(err, pool.ErrPositionHealthy) || errors.Is(err, pool.ErrNoOpenPosition) {
		k.log.Debug("[Keeper] task skipped", zap.String("kind", task.Kind.String()), zap.String("user", task.User.String()), zap.Error(err))
		err = nil
	} else if err != nil {
		k.failed.Add(1)
		k.log.Warn("[Keeper] task failed",
			zap.Int("worker", id),
			zap.String("kind", task.Kind.String()),
			zap.String("user", task.User.String()),
			zap.Error(err))
	}
	k.metrics.TaskDone(task.Kind, err)
}

// =============================================================================
// 监控
// =============================================================================

// healthRatio 健康度定点数转成比例 (15000 -> 1.5)
func healthRatio(h int64) decimal.Decimal {
	return decimal.New(h, -4)
}

// Index 风险索引
func (k *Keeper) Index() *Index { return k.index }

// Stats 统计
func (k *Keeper) Stats() Stats {
	return Stats{
		Watched:     k.index.Len(),
		Warning:     len(k.index.ByLevel(RiskLevelWarning)),
		Danger:      len(k.index.ByLevel(RiskLevelDanger)),
		Critical:    len(k.index.ByLevel(RiskLevelCritical)),
		QueuedTasks: len(k.queue),
		Liquidated:  k.liquidated.Load(),
		Accrued:     k.accrued.Load(),
		Failed:      k.failed.Load(),
		Dropped:     k.dropped.Load(),
	}
}
