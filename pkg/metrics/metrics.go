// 文件: pkg/metrics/metrics.go
// Prometheus 指标
//
// - 池操作: 次数 / 错误码
// - 池状态: 流动性、负债、份额、利用率、仓位数
// - 守护进程: 任务结果、丢弃数、风险等级分布

package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"levpool.com/pkg/keeper"
	"levpool.com/pkg/pool"
)

var (
	_ pool.Observer  = (*Metrics)(nil)
	_ keeper.Metrics = (*Metrics)(nil)
)

// Metrics 全部指标
type Metrics struct {
	ops          *prometheus.CounterVec
	liquidity    prometheus.Gauge
	borrowed     prometheus.Gauge
	shares       prometheus.Gauge
	utilization  prometheus.Gauge
	positions    prometheus.Gauge
	keeperTasks  *prometheus.CounterVec
	keeperDrops  *prometheus.CounterVec
	riskLevels   *prometheus.GaugeVec
	keeperQueued prometheus.Gauge
}

var (
	defaultOnce sync.Once
	defaultReg  *Metrics
)

// Default 注册到 prometheus 默认 Registry (进程内只注册一次)
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultReg = New(prometheus.DefaultRegisterer)
	})
	return defaultReg
}

// New 创建指标并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "levpool_operations_total",
			Help: "Pool operations by name and result code (0 = success).",
		}, []string{"op", "code"}),
		liquidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levpool_total_liquidity",
			Help: "Total liquidity accounted to the pool, in base units.",
		}),
		borrowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levpool_total_borrowed",
			Help: "Outstanding debt including accrued interest, in base units.",
		}),
		shares: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levpool_total_shares",
			Help: "Outstanding LP shares.",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levpool_utilization_bps",
			Help: "Borrowed over liquidity in basis points.",
		}),
		positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levpool_open_positions",
			Help: "Number of open leveraged positions.",
		}),
		keeperTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "levpool_keeper_tasks_total",
			Help: "Keeper tasks executed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		keeperDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "levpool_keeper_dropped_total",
			Help: "Keeper tasks dropped because the queue was full.",
		}, []string{"kind"}),
		riskLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "levpool_keeper_watched_positions",
			Help: "Positions in the keeper risk index by level.",
		}, []string{"level"}),
		keeperQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levpool_keeper_queued_tasks",
			Help: "Tasks waiting in the keeper queue.",
		}),
	}
	reg.MustRegister(
		m.ops, m.liquidity, m.borrowed, m.shares, m.utilization, m.positions,
		m.keeperTasks, m.keeperDrops, m.riskLevels, m.keeperQueued,
	)
	return m
}

// ObserveOp 实现 pool.Observer
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, strconv.FormatUint(uint64(pool.Code(err)), 10)).Inc()
}

// ObservePool 实现 pool.Observer
func (m *Metrics) ObservePool(s pool.PoolStats) {
	if m == nil {
		return
	}
	m.liquidity.Set(float64(s.TotalLiquidity))
	m.borrowed.Set(float64(s.TotalBorrowed))
	m.shares.Set(float64(s.TotalShares))
	m.utilization.Set(float64(s.UtilizationRateBps))
	m.positions.Set(float64(s.OpenPositions))
}

// TaskDone 实现 keeper.Metrics
func (m *Metrics) TaskDone(kind keeper.TaskKind, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.keeperTasks.WithLabelValues(kind.String(), outcome).Inc()
}

// TaskDropped 实现 keeper.Metrics
func (m *Metrics) TaskDropped(kind keeper.TaskKind) {
	if m == nil {
		return
	}
	m.keeperDrops.WithLabelValues(kind.String()).Inc()
}

// RiskLevels 实现 keeper.Metrics
func (m *Metrics) RiskLevels(s keeper.Stats) {
	if m == nil {
		return
	}
	m.riskLevels.WithLabelValues(keeper.RiskLevelWarning.String()).Set(float64(s.Warning))
	m.riskLevels.WithLabelValues(keeper.RiskLevelDanger.String()).Set(float64(s.Danger))
	m.riskLevels.WithLabelValues(keeper.RiskLevelCritical.String()).Set(float64(s.Critical))
	m.keeperQueued.Set(float64(s.QueuedTasks))
}
