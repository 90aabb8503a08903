package gateway

import (
	"math"
	"sort"
	"sync"

	"tick-analytics/internal/ringbuf"
)

// LatencyTracker records tick-to-broadcast latency samples (ms) and reports
// p50/p95/p99 over the most recent samples. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	samples *ringbuf.Ring[float64]
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: ringbuf.New[float64](capacity)}
}

// Record adds a latency sample in milliseconds.
func (lt *LatencyTracker) Record(latencyMs float64) {
	lt.mu.Lock()
	lt.samples.Push(latencyMs)
	lt.mu.Unlock()
}

// Percentiles returns p50, p95, p99 latency in milliseconds,
// or zeros when nothing was recorded.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	sorted := lt.samples.Values()
	lt.mu.Unlock()
	if len(sorted) == 0 {
		return 0, 0, 0
	}

	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns the number of samples held (up to capacity).
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.samples.Len()
}

// percentile interpolates the p-th percentile (0.0-1.0) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
