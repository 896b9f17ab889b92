package engine

import (
	"log/slog"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/hooks"
	"github.com/INLOpen/nexuslog/metrics"
	"github.com/INLOpen/nexuslog/queue"
	"github.com/INLOpen/nexuslog/segment"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultFlushThreshold         = 100
	DefaultFlushInterval          = 100 * time.Millisecond
	DefaultMetricsInterval        = time.Second
	DefaultRetentionCheckInterval = time.Hour
)

// Options configures a LogStore. Zero values take the defaults below.
type Options struct {
	BaseDir string
	// SegmentSize is the data segment capacity in bytes. Index segments are
	// a tenth of it.
	SegmentSize    int64
	FlushThreshold int
	FlushInterval  time.Duration
	RingBufferSize int
	// MetricsInterval is how often queue depth and segment sizes are sampled.
	MetricsInterval time.Duration

	Codec       core.Codec
	Host        string
	Preallocate bool
	// SyncOnFlush msyncs the current pair after every flush. Without it data
	// reaches disk when a pair is closed or the kernel writes pages back.
	SyncOnFlush bool

	QueryWorkers    int
	PruneByFileTime bool

	// RetentionPeriod removes segment pairs created longer ago than this.
	// Zero keeps everything.
	RetentionPeriod        time.Duration
	RetentionCheckInterval time.Duration

	PerformanceThreshold time.Duration

	HookManager    hooks.HookManager
	Metrics        *metrics.Registry
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// DefaultOptions returns the options used when a value is not configured.
func DefaultOptions(baseDir string) Options {
	return Options{
		BaseDir:                baseDir,
		SegmentSize:            segment.DefaultCapacity,
		FlushThreshold:         DefaultFlushThreshold,
		FlushInterval:          DefaultFlushInterval,
		RingBufferSize:         queue.DefaultCapacity,
		MetricsInterval:        DefaultMetricsInterval,
		Preallocate:            true,
		RetentionCheckInterval: DefaultRetentionCheckInterval,
		PerformanceThreshold:   metrics.DefaultPerformanceThreshold,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions(o.BaseDir)
	if o.SegmentSize <= 0 {
		o.SegmentSize = d.SegmentSize
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = d.FlushThreshold
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = d.FlushInterval
	}
	if o.RingBufferSize <= 0 {
		o.RingBufferSize = d.RingBufferSize
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = d.MetricsInterval
	}
	if o.RetentionCheckInterval <= 0 {
		o.RetentionCheckInterval = d.RetentionCheckInterval
	}
	if o.PerformanceThreshold <= 0 {
		o.PerformanceThreshold = d.PerformanceThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
