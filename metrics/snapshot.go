package metrics

import "time"

const (
	StatusHealthy = "healthy"
	StatusGood    = "good"
	StatusWarning = "warning"
)

// Status carries the derived health and performance flags.
type Status struct {
	Health      string `json:"health"`
	Performance string `json:"performance"`
}

// Snapshot is a read-only view of a Registry. Individual fields are read
// atomically; the snapshot as a whole is not a consistent cut.
type Snapshot struct {
	Timestamp            time.Time `json:"timestamp"`
	UptimeSeconds        float64   `json:"uptimeSeconds"`
	TotalProcessed       int64     `json:"totalProcessed"`
	RecentProcessed      int64     `json:"recentProcessed"`
	TotalErrors          int64     `json:"totalErrors"`
	CurrentQueueSize     int64     `json:"currentQueueSize"`
	TotalBytes           int64     `json:"totalBytes"`
	MaxWriteLatencyMs    float64   `json:"maxWriteLatencyMs"`
	WriteLatencyP50Ms    float64   `json:"writeLatencyP50Ms"`
	WriteLatencyP99Ms    float64   `json:"writeLatencyP99Ms"`
	CurrentDataFileSize  int64     `json:"currentDataFileSize"`
	CurrentIndexFileSize int64     `json:"currentIndexFileSize"`
	TotalFiles           int64     `json:"totalFiles"`
	CacheOverflows       int64     `json:"cacheOverflows"`
	Status               Status    `json:"status"`
}

// Snapshot reads every metric and derives the status flags: health is a
// warning once any error was recorded, performance once the maximum write
// latency exceeds the configured threshold.
func (r *Registry) Snapshot() Snapshot {
	now := r.now()
	maxLatency := time.Duration(r.maxWriteLatency.Load())
	s := Snapshot{
		Timestamp:            now,
		UptimeSeconds:        now.Sub(r.startTime).Seconds(),
		TotalProcessed:       r.totalProcessed.Load(),
		RecentProcessed:      r.recentProcessed.Load(),
		TotalErrors:          r.totalErrors.Load(),
		CurrentQueueSize:     r.currentQueueSize.Load(),
		TotalBytes:           r.totalBytes.Load(),
		MaxWriteLatencyMs:    durationMs(maxLatency),
		WriteLatencyP50Ms:    float64FromBits(r.latencyP50.Load()),
		WriteLatencyP99Ms:    float64FromBits(r.latencyP99.Load()),
		CurrentDataFileSize:  r.currentDataFileSize.Load(),
		CurrentIndexFileSize: r.currentIndexFileSize.Load(),
		TotalFiles:           r.totalFiles.Load(),
		CacheOverflows:       r.cacheOverflows.Load(),
		Status:               Status{Health: StatusHealthy, Performance: StatusGood},
	}
	if s.TotalErrors > 0 {
		s.Status.Health = StatusWarning
	}
	if maxLatency > r.perfThreshold {
		s.Status.Performance = StatusWarning
	}
	return s
}

// Formatted returns the snapshot as a map with human-readable byte sizes
// added next to the raw values, the shape served by the metrics endpoint.
func (s Snapshot) Formatted() map[string]any {
	return map[string]any{
		"timestamp":                     s.Timestamp.UnixMilli(),
		"uptimeSeconds":                 s.UptimeSeconds,
		"totalProcessed":                s.TotalProcessed,
		"recentProcessed":               s.RecentProcessed,
		"totalErrors":                   s.TotalErrors,
		"currentQueueSize":              s.CurrentQueueSize,
		"totalBytes":                    s.TotalBytes,
		"totalBytesFormatted":           FormatBytes(s.TotalBytes),
		"maxWriteLatencyMs":             s.MaxWriteLatencyMs,
		"writeLatencyP50Ms":             s.WriteLatencyP50Ms,
		"writeLatencyP99Ms":             s.WriteLatencyP99Ms,
		"currentDataFileSize":           s.CurrentDataFileSize,
		"currentDataFileSizeFormatted":  FormatBytes(s.CurrentDataFileSize),
		"currentIndexFileSize":          s.CurrentIndexFileSize,
		"currentIndexFileSizeFormatted": FormatBytes(s.CurrentIndexFileSize),
		"totalFiles":                    s.TotalFiles,
		"cacheOverflows":                s.CacheOverflows,
		"status":                        s.Status,
	}
}
