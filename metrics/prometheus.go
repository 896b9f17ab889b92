package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Registry to Prometheus. Values are read from the
// registry at scrape time, so nothing is double-counted.
type Collector struct {
	reg *Registry

	processed      *prometheus.Desc
	recent         *prometheus.Desc
	errors         *prometheus.Desc
	bytes          *prometheus.Desc
	files          *prometheus.Desc
	overflows      *prometheus.Desc
	queueSize      *prometheus.Desc
	dataFileSize   *prometheus.Desc
	indexFileSize  *prometheus.Desc
	maxLatency     *prometheus.Desc
	latencyQuantil *prometheus.Desc
	healthy        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string, r *Registry) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", name), help, labels, nil)
	}
	return &Collector{
		reg:            r,
		processed:      d("records_processed_total", "Records accepted by the store."),
		recent:         d("records_recent", "Records accepted in the current rolling window."),
		errors:         d("errors_total", "Write path errors."),
		bytes:          d("bytes_written_total", "Frame bytes written to data segments."),
		files:          d("segments_created_total", "Segment pairs created."),
		overflows:      d("cache_overflows_total", "Times the pending batch grew past twice the flush threshold."),
		queueSize:      d("queue_size", "Current queue depth."),
		dataFileSize:   d("data_segment_bytes", "Write position of the current data segment."),
		indexFileSize:  d("index_segment_bytes", "Write position of the current index segment."),
		maxLatency:     d("write_latency_max_seconds", "Maximum flush latency since the last reset."),
		latencyQuantil: d("write_latency_seconds", "Flush latency quantiles.", "quantile"),
		healthy:        d("healthy", "1 when no write errors have been recorded."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.processed, c.recent, c.errors, c.bytes, c.files, c.overflows,
		c.queueSize, c.dataFileSize, c.indexFileSize, c.maxLatency, c.latencyQuantil, c.healthy,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.reg.Snapshot()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter(c.processed, s.TotalProcessed)
	counter(c.errors, s.TotalErrors)
	counter(c.bytes, s.TotalBytes)
	counter(c.files, s.TotalFiles)
	counter(c.overflows, s.CacheOverflows)
	gauge(c.recent, float64(s.RecentProcessed))
	gauge(c.queueSize, float64(s.CurrentQueueSize))
	gauge(c.dataFileSize, float64(s.CurrentDataFileSize))
	gauge(c.indexFileSize, float64(s.CurrentIndexFileSize))
	gauge(c.maxLatency, s.MaxWriteLatencyMs/1000)
	gauge(c.latencyQuantil, s.WriteLatencyP50Ms/1000, "0.5")
	gauge(c.latencyQuantil, s.WriteLatencyP99Ms/1000, "0.99")
	healthy := 1.0
	if s.Status.Health != StatusHealthy {
		healthy = 0
	}
	gauge(c.healthy, healthy)
}
