package appserver

import (
	"sort"
	"sync"

	"github.com/dreamware/fleetwar/internal/cluster"
)

// PoolConfig describes one memory pool of the emulated server JVM.
//
// Live bytes survive a collection, garbage bytes do not. Heap marks the pool
// deployed webapps allocate their footprint in.
type PoolConfig struct {
	Name    string `yaml:"name"`
	Max     int64  `yaml:"max"`
	Live    int64  `yaml:"live"`
	Garbage int64  `yaml:"garbage"`
	Heap    bool   `yaml:"heap"`
}

// DefaultPools mirrors a small CMS-collected heap.
func DefaultPools() []PoolConfig {
	const mb = 1 << 20
	return []PoolConfig{
		{Name: "Par Eden Space", Max: 128 * mb, Garbage: 96 * mb},
		{Name: "Par Survivor Space", Max: 16 * mb, Live: 2 * mb, Garbage: 6 * mb},
		{Name: "CMS Old Gen", Max: 1024 * mb, Live: 128 * mb, Heap: true},
		{Name: "CMS Perm Gen", Max: 256 * mb, Live: 64 * mb},
	}
}

type memory struct {
	mu    sync.Mutex
	pools []PoolConfig
}

func newMemory(pools []PoolConfig) *memory {
	cp := append([]PoolConfig(nil), pools...)
	return &memory{pools: cp}
}

// allocate adds live bytes to the heap pool.
func (m *memory) allocate(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pools {
		if m.pools[i].Heap {
			m.pools[i].Live += n
			return
		}
	}
}

// release turns n live heap bytes into garbage.
func (m *memory) release(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pools {
		if m.pools[i].Heap {
			if n > m.pools[i].Live {
				n = m.pools[i].Live
			}
			m.pools[i].Live -= n
			m.pools[i].Garbage += n
			return
		}
	}
}

// collect drops all garbage and returns the number of bytes reclaimed.
func (m *memory) collect() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var freed int64
	for i := range m.pools {
		freed += m.pools[i].Garbage
		m.pools[i].Garbage = 0
	}
	return freed
}

func (m *memory) usage() []cluster.PoolUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cluster.PoolUsage, 0, len(m.pools))
	for _, p := range m.pools {
		var pct float64
		if p.Max > 0 {
			pct = float64(p.Live+p.Garbage) * 100 / float64(p.Max)
		}
		out = append(out, cluster.PoolUsage{Pool: p.Name, PercentUsed: pct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pool < out[j].Pool })
	return out
}

// over returns the pools used above pct percent.
func (m *memory) over(pct float64) []cluster.PoolUsage {
	var out []cluster.PoolUsage
	for _, u := range m.usage() {
		if u.PercentUsed > pct {
			out = append(out, u)
		}
	}
	return out
}
