package cache

import "sync/atomic"

// Metrics tracks cache performance counters.
type Metrics struct {
	accesses  atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	writes    atomic.Int64
	evictions atomic.Int64
}

func (m *Metrics) access() { m.accesses.Add(1) }
func (m *Metrics) hit()    { m.hits.Add(1) }
func (m *Metrics) miss()   { m.misses.Add(1) }
func (m *Metrics) write()  { m.writes.Add(1) }

func (m *Metrics) evictN(n int) { m.evictions.Add(int64(n)) }

// Hits returns the number of cache hits.
func (m *Metrics) Hits() int64 { return m.hits.Load() }

// Misses returns the number of cache misses.
func (m *Metrics) Misses() int64 { return m.misses.Load() }

// Writes returns the number of cache writes.
func (m *Metrics) Writes() int64 { return m.writes.Load() }

// Evictions returns the number of background evictions.
func (m *Metrics) Evictions() int64 { return m.evictions.Load() }

// HitRate returns the overall hit rate across all accesses.
func (m *Metrics) HitRate() float64 {
	total := m.accesses.Load()
	if total == 0 {
		return 0
	}
	return float64(m.hits.Load()) / float64(total)
}
