package keeper

import (
	"maps"
	"sync"
	"sync/atomic"

	"levpool.com/pkg/account"
)

// =============================================================================
// Index - Copy-on-Write 风险索引
// =============================================================================

// Index 非安全仓位索引
//
// 读无锁 (原子加载快照)，写时复制整张表后原子替换。
// 扫描每轮批量写一次，价格触发只读，读多写少。
type Index struct {
	data    atomic.Pointer[map[account.Address]Watch]
	writeMu sync.Mutex
}

// NewIndex 创建索引
func NewIndex() *Index {
	idx := &Index{}
	empty := make(map[account.Address]Watch)
	idx.data.Store(&empty)
	return idx
}

// Get 查询
func (idx *Index) Get(user account.Address) (Watch, bool) {
	w, ok := (*idx.data.Load())[user]
	return w, ok
}

// Len 索引中的仓位数
func (idx *Index) Len() int {
	return len(*idx.data.Load())
}

// ByLevel 指定等级的仓位
func (idx *Index) ByLevel(level RiskLevel) []Watch {
	var out []Watch
	for _, w := range *idx.data.Load() {
		if w.Level == level {
			out = append(out, w)
		}
	}
	return out
}

// ByFeed 使用指定报价 key 且等级不低于 minLevel 的仓位
func (idx *Index) ByFeed(key string, minLevel RiskLevel) []Watch {
	var out []Watch
	for _, w := range *idx.data.Load() {
		if w.PriceFeedKey == key && w.Level >= minLevel {
			out = append(out, w)
		}
	}
	return out
}

// BatchUpdate 批量写入与删除，Safe 等级的写入视为删除
func (idx *Index) BatchUpdate(updates []Watch, removes []account.Address) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	old := idx.data.Load()
	next := make(map[account.Address]Watch, len(*old)+len(updates))
	maps.Copy(next, *old)

	for _, u := range removes {
		delete(next, u)
	}
	for _, w := range updates {
		if w.Level == RiskLevelSafe {
			delete(next, w.User)
			continue
		}
		next[w.User] = w
	}
	idx.data.Store(&next)
}

// Replace 用一轮全量扫描结果替换索引
func (idx *Index) Replace(all []Watch) {
	next := make(map[account.Address]Watch, len(all))
	for _, w := range all {
		if w.Level != RiskLevelSafe {
			next[w.User] = w
		}
	}
	idx.writeMu.Lock()
	idx.data.Store(&next)
	idx.writeMu.Unlock()
}
