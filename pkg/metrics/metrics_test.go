package metrics

import (
	"errors"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"levpool.com/pkg/keeper"
	"levpool.com/pkg/pool"
)

func TestMetrics_PoolObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOp("lp_deposit", nil)
	m.ObserveOp("lp_deposit", nil)
	m.ObserveOp("open_position", pool.ErrInsufficientCollateral)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("lp_deposit", "0")))
	code := pool.Code(pool.ErrInsufficientCollateral)
	assert.NotZero(t, code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("open_position", strconv.FormatUint(uint64(code), 10))))

	m.ObservePool(pool.PoolStats{TotalLiquidity: 10_000, TotalBorrowed: 5_000, TotalShares: 9_000, UtilizationRateBps: 5_000, OpenPositions: 3})
	assert.Equal(t, 10_000.0, testutil.ToFloat64(m.liquidity))
	assert.Equal(t, 5_000.0, testutil.ToFloat64(m.borrowed))
	assert.Equal(t, 5_000.0, testutil.ToFloat64(m.utilization))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.positions))
}

func TestMetrics_Keeper(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskDone(keeper.TaskLiquidate, nil)
	m.TaskDone(keeper.TaskLiquidate, errors.New("boom"))
	m.TaskDropped(keeper.TaskAccrue)
	m.RiskLevels(keeper.Stats{Warning: 2, Danger: 1, Critical: 4, QueuedTasks: 5})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperTasks.WithLabelValues("liquidate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperTasks.WithLabelValues("liquidate", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperDrops.WithLabelValues("accrue")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.riskLevels.WithLabelValues("CRITICAL")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.keeperQueued))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOp("x", nil)
		m.ObservePool(pool.PoolStats{})
		m.TaskDone(keeper.TaskAccrue, nil)
		m.TaskDropped(keeper.TaskAccrue)
		m.RiskLevels(keeper.Stats{})
	})
}

func TestDefault_RegistersOnce(t *testing.T) {
	assert.Same(t, Default(), Default())
}
