// Package metrics holds the store's lock-free counters and gauges and
// exports them as snapshots, expvar and Prometheus metrics.
package metrics

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	// DefaultRecentWindow is the span of the rolling recentProcessed counter.
	DefaultRecentWindow = 60 * time.Second
	// DefaultPerformanceThreshold flags write latency above it as a warning.
	DefaultPerformanceThreshold = 100 * time.Millisecond
)

// Options configures a Registry.
type Options struct {
	RecentWindow         time.Duration
	PerformanceThreshold time.Duration
	// Now is the clock used for the rolling window. Defaults to time.Now.
	Now func() time.Time
}

// Registry is safe for concurrent use. Every update is a single atomic
// operation or a compare-and-swap loop; nothing blocks.
type Registry struct {
	recentWindow  time.Duration
	perfThreshold time.Duration
	now           func() time.Time

	totalProcessed  atomic.Int64
	recentProcessed atomic.Int64
	lastReset       atomic.Int64 // unix nanos
	totalErrors     atomic.Int64
	totalBytes      atomic.Int64
	totalFiles      atomic.Int64
	cacheOverflows  atomic.Int64

	currentQueueSize     atomic.Int64
	currentDataFileSize  atomic.Int64
	currentIndexFileSize atomic.Int64
	maxWriteLatency      atomic.Int64  // nanos
	latencyP50           atomic.Uint64 // float64 bits, millis
	latencyP99           atomic.Uint64

	startTime time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = DefaultRecentWindow
	}
	if opts.PerformanceThreshold <= 0 {
		opts.PerformanceThreshold = DefaultPerformanceThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{
		recentWindow:  opts.RecentWindow,
		perfThreshold: opts.PerformanceThreshold,
		now:           opts.Now,
	}
	r.startTime = r.now()
	r.lastReset.Store(r.startTime.UnixNano())
	return r
}

// RecordProcessed counts n accepted records. The rolling counter is reset
// first when its window has elapsed; the CAS on lastReset lets exactly one
// caller perform the reset per window.
func (r *Registry) RecordProcessed(n int64) {
	now := r.now().UnixNano()
	last := r.lastReset.Load()
	if now-last > int64(r.recentWindow) && r.lastReset.CompareAndSwap(last, now) {
		r.recentProcessed.Store(0)
	}
	r.totalProcessed.Add(n)
	r.recentProcessed.Add(n)
}

func (r *Registry) RecordError() { r.totalErrors.Add(1) }

func (r *Registry) RecordBytes(n int64) { r.totalBytes.Add(n) }

func (r *Registry) RecordFileCreated() { r.totalFiles.Add(1) }

func (r *Registry) RecordCacheOverflow() { r.cacheOverflows.Add(1) }

func (r *Registry) SetQueueSize(n int64) { r.currentQueueSize.Store(n) }

func (r *Registry) SetFileSizes(data, index int64) {
	r.currentDataFileSize.Store(data)
	r.currentIndexFileSize.Store(index)
}

// RecordWriteLatency raises the maximum write latency to d if d is larger.
func (r *Registry) RecordWriteLatency(d time.Duration) {
	v := int64(d)
	for {
		cur := r.maxWriteLatency.Load()
		if v <= cur {
			return
		}
		if r.maxWriteLatency.CompareAndSwap(cur, v) {
			return
		}
	}
}

// ResetMaxLatency clears the maximum write latency.
func (r *Registry) ResetMaxLatency() { r.maxWriteLatency.Store(0) }

// SetLatencyQuantiles publishes flush latency quantiles computed by the writer.
func (r *Registry) SetLatencyQuantiles(p50, p99 time.Duration) {
	r.latencyP50.Store(math.Float64bits(durationMs(p50)))
	r.latencyP99.Store(math.Float64bits(durationMs(p99)))
}

func (r *Registry) TotalProcessed() int64 { return r.totalProcessed.Load() }

func (r *Registry) TotalErrors() int64 { return r.totalErrors.Load() }

func (r *Registry) MaxWriteLatency() time.Duration { return time.Duration(r.maxWriteLatency.Load()) }

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
