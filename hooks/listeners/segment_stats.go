package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexuslog/hooks"
)

var (
	segmentStatsOnce  sync.Once
	segmentsClosed    *expvar.Int
	segmentDataBytes  *expvar.Int
	segmentIndexBytes *expvar.Int
)

func initSegmentStats() {
	segmentStatsOnce.Do(func() {
		segmentsClosed = expvar.NewInt("nexuslog_segments_closed_total")
		segmentDataBytes = expvar.NewInt("nexuslog_segment_data_bytes_total")
		segmentIndexBytes = expvar.NewInt("nexuslog_segment_index_bytes_total")
		expvar.Publish("nexuslog_segment_avg_data_bytes", expvar.Func(func() interface{} {
			n := segmentsClosed.Value()
			if n == 0 {
				return 0.0
			}
			return float64(segmentDataBytes.Value()) / float64(n)
		}))
	})
}

// SegmentStatsListener accumulates the sizes of closed segment pairs into
// process-wide expvar counters.
type SegmentStatsListener struct {
	logger *slog.Logger

	closed     *expvar.Int
	dataBytes  *expvar.Int
	indexBytes *expvar.Int
}

func NewSegmentStatsListener(logger *slog.Logger) *SegmentStatsListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initSegmentStats()
	return &SegmentStatsListener{
		logger:     logger.With("component", "SegmentStatsListener"),
		closed:     segmentsClosed,
		dataBytes:  segmentDataBytes,
		indexBytes: segmentIndexBytes,
	}
}

func (l *SegmentStatsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostSegmentClose {
		return nil
	}
	payload, ok := event.Payload().(hooks.SegmentPayload)
	if !ok {
		return nil
	}
	l.closed.Add(1)
	l.dataBytes.Add(payload.DataSize)
	l.indexBytes.Add(payload.IndexSize)
	l.logger.Info("Segment pair closed",
		"name", payload.Name,
		"data_bytes", payload.DataSize,
		"index_bytes", payload.IndexSize,
	)
	return nil
}

func (l *SegmentStatsListener) Priority() int { return 100 }

func (l *SegmentStatsListener) IsAsync() bool { return true }
