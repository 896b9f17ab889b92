package listeners

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/INLOpen/nexuslog/hooks"
)

// SlowFlushListener warns when a batch flush takes longer than a threshold.
type SlowFlushListener struct {
	logger    *slog.Logger
	threshold time.Duration
	slow      atomic.Int64
}

func NewSlowFlushListener(logger *slog.Logger, threshold time.Duration) *SlowFlushListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SlowFlushListener{
		logger:    logger.With("component", "SlowFlushListener"),
		threshold: threshold,
	}
}

func (l *SlowFlushListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PostFlushPayload)
	if !ok || l.threshold <= 0 || payload.Duration <= l.threshold {
		return nil
	}
	l.slow.Add(1)
	l.logger.Warn("Slow flush detected",
		"records", payload.Records,
		"bytes", payload.Bytes,
		"segment", payload.Segment,
		"duration_ms", payload.Duration.Milliseconds(),
		"threshold_ms", l.threshold.Milliseconds(),
	)
	return nil
}

// SlowFlushes is the number of flushes over the threshold so far.
func (l *SlowFlushListener) SlowFlushes() int64 { return l.slow.Load() }

func (l *SlowFlushListener) Priority() int { return 100 }

func (l *SlowFlushListener) IsAsync() bool { return true }
