// 文件: pkg/pool/math.go
// 健康度 / 利息 / 份额 计算
//
// 中间乘积可能超过 int64 (保证金 × 价格 × 抵押率)，统一用 256 位整数计算后再截断

package pool

import (
	"math"

	"github.com/holiman/uint256"
)

// mulDiv 计算 a × b × c / d (向下取整)
//
// 负数输入按 0 处理；结果超过 int64 时饱和为 MaxInt64；d == 0 返回 ErrDivisionByZero
func mulDiv(a, b, c, d int64) (int64, error) {
	if d <= 0 {
		return 0, ErrDivisionByZero
	}
	if a <= 0 || b <= 0 || c <= 0 {
		return 0, nil
	}
	x := uint256.NewInt(uint64(a))
	x.Mul(x, uint256.NewInt(uint64(b)))
	x.Mul(x, uint256.NewInt(uint64(c)))
	x.Div(x, uint256.NewInt(uint64(d)))
	if !x.IsUint64() || x.Uint64() > math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(x.Uint64()), nil
}

// CollateralCapacity 保证金按抵押率折算后的可借额度 (基础资产单位)
//
// collateral × price × factor / (10000 × PriceScale)
func CollateralCapacity(collateral, price, factorBps int64) int64 {
	v, _ := mulDiv(collateral, price, factorBps, BasisPoints*PriceScale)
	return v
}

// CollateralValue 保证金按现价计算的市值 (不打折)
func CollateralValue(collateral, price int64) int64 {
	v, _ := mulDiv(collateral, price, 1, PriceScale)
	return v
}

// ComputeHealth 计算健康度
//
// health = capacity × HealthScale / borrowed；borrowed == 0 返回 InfiniteHealth
func ComputeHealth(collateral, price, factorBps, borrowed int64) int64 {
	if borrowed <= 0 {
		return InfiniteHealth
	}
	capacity := CollateralCapacity(collateral, price, factorBps)
	h, _ := mulDiv(capacity, HealthScale, 1, borrowed)
	return h
}

// ElapsedLedgers 距上次计息经过的账本数，时钟回退时为 0
func ElapsedLedgers(last, now uint64) uint64 {
	if now <= last {
		return 0
	}
	return now - last
}

// Interest 计算一段时间的利息
//
// borrowed × rate × elapsed / (10000 × InterestPeriod)
func Interest(borrowed, rateBps int64, elapsed uint64) int64 {
	if elapsed > math.MaxInt64 {
		elapsed = math.MaxInt64
	}
	v, _ := mulDiv(borrowed, rateBps, int64(elapsed), BasisPoints*InterestPeriod)
	return v
}

// AccrueInterest 给仓位计息，返回新增利息
//
// 推进 LastInterestTick 到 now；elapsed 为 0 时幂等
func AccrueInterest(p *Position, rateBps int64, now uint64) int64 {
	elapsed := ElapsedLedgers(p.LastInterestTick, now)
	interest := Interest(p.BorrowedAmount, rateBps, elapsed)
	p.BorrowedAmount = addSat(p.BorrowedAmount, interest)
	if now > p.LastInterestTick {
		p.LastInterestTick = now
	}
	return interest
}

// SharesForDeposit 存入 amount 应得的 LP 份额
//
// 首个存入 1:1；之后 amount × totalShares / totalLiquidity (向下取整)
func SharesForDeposit(amount int64, st PoolState) (int64, error) {
	if st.TotalShares == 0 {
		return amount, nil
	}
	return mulDiv(amount, st.TotalShares, 1, st.TotalLiquidity)
}

// RedeemForShares 赎回 shares 可得的基础资产
func RedeemForShares(shares int64, st PoolState) (int64, error) {
	return mulDiv(shares, st.TotalLiquidity, 1, st.TotalShares)
}

// MaxPayout 平仓盈利可从池中支付的上限
//
// 不动用仍被借出的部分；有份额在外时至少留下 1 单位流动性，
// 保证 TotalShares == 0 当且仅当 TotalLiquidity == 0
func MaxPayout(st PoolState) int64 {
	avail := st.TotalLiquidity - st.TotalBorrowed
	if st.TotalShares > 0 {
		avail--
	}
	return max(avail, 0)
}

// LossInCollateral 把基础资产亏损折算成保证金数量
func LossInCollateral(loss, price int64) (int64, error) {
	return mulDiv(loss, PriceScale, 1, price)
}

// Utilization 资金利用率 (bps)
func Utilization(st PoolState) int64 {
	if st.TotalLiquidity <= 0 {
		return 0
	}
	v, _ := mulDiv(st.TotalBorrowed, BasisPoints, 1, st.TotalLiquidity)
	return v
}

// marginFloor MinHealthBps 的 pct% 安全边际
func marginFloor(minHealthBps, pct int64) int64 {
	v, _ := mulDiv(minHealthBps, pct, 1, 100)
	return v
}

func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
