package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/hooks"
	"github.com/INLOpen/nexuslog/metrics"
	"github.com/INLOpen/nexuslog/segment"
	"github.com/caio/go-tdigest/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// batchWriter accumulates drained records and flushes them through the
// segment manager. Records arrive from the queue consumer; flushes are also
// triggered by the interval timer and by shutdown.
//
// mu guards the pending batch and is never held across I/O. flushMu
// serializes flushes, so only one goroutine mutates segment files at a time.
type batchWriter struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	hooks     hooks.HookManager
	metrics   *metrics.Registry
	manager   *segment.Manager
	threshold int
	syncFlush bool
	now       func() time.Time

	mu    sync.Mutex
	batch []*core.CallRecord

	flushMu sync.Mutex
	digest  *tdigest.TDigest

	errLimiter *rate.Limiter
}

func newBatchWriter(opts Options, manager *segment.Manager, hm hooks.HookManager, reg *metrics.Registry, tracer trace.Tracer, logger *slog.Logger) (*batchWriter, error) {
	td, err := tdigest.New()
	if err != nil {
		return nil, err
	}
	return &batchWriter{
		logger:     logger.With("component", "BatchWriter"),
		tracer:     tracer,
		hooks:      hm,
		metrics:    reg,
		manager:    manager,
		threshold:  opts.FlushThreshold,
		syncFlush:  opts.SyncOnFlush,
		now:        opts.Now,
		batch:      make([]*core.CallRecord, 0, opts.FlushThreshold),
		digest:     td,
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}, nil
}

// onRecord is the queue handler. It runs on the consumer goroutine.
func (w *batchWriter) onRecord(rec *core.CallRecord, endOfBatch bool) {
	w.mu.Lock()
	w.batch = append(w.batch, rec)
	n := len(w.batch)
	w.mu.Unlock()

	w.metrics.SetQueueSize(int64(n))
	if n >= 2*w.threshold {
		// The writer is behind; keep accumulating, nothing is dropped.
		w.metrics.RecordCacheOverflow()
		if n == 2*w.threshold {
			w.logger.Warn("Pending batch passed twice the flush threshold", "batch_size", n, "threshold", w.threshold)
			w.trigger(hooks.NewOnCacheOverflowEvent(hooks.CacheOverflowPayload{BatchSize: n, Threshold: w.threshold}))
		}
	}
	if n >= w.threshold || endOfBatch {
		_ = w.flush(context.Background(), flushReasonBatch(endOfBatch))
	}
}

func flushReasonBatch(endOfBatch bool) string {
	if endOfBatch {
		return "end_of_batch"
	}
	return "threshold"
}

// pending returns the current batch size.
func (w *batchWriter) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batch)
}

// requeue puts recs back in front of anything that arrived meanwhile.
func (w *batchWriter) requeue(recs []*core.CallRecord) {
	w.mu.Lock()
	w.batch = append(recs, w.batch...)
	w.mu.Unlock()
}

// flush writes the pending batch. Records that cannot be encoded, or are
// larger than a segment, are dropped and counted. When the segment pair
// cannot be created the batch is kept for the next flush.
func (w *batchWriter) flush(ctx context.Context, reason string) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	pending := w.batch
	w.batch = make([]*core.CallRecord, 0, w.threshold)
	w.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	ctx, span := w.tracer.Start(ctx, "LogStore.flush")
	defer span.End()
	span.SetAttributes(
		attribute.Int("flush.records", len(pending)),
		attribute.String("flush.reason", reason),
	)

	start := w.now()
	if _, err := w.manager.EnsureWritable(); err != nil {
		w.requeue(pending)
		w.writeFailed(ctx, "", "rollover", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "segment rollover failed")
		return err
	}

	var (
		written  int64
		failed   int
		flushErr error
	)
	for i, rec := range pending {
		n, err := w.manager.Write(rec)
		if err == nil {
			written += int64(n)
			continue
		}
		if core.IsIOError(err) {
			// The pair is unusable; retry the rest on the next cycle.
			w.requeue(pending[i:])
			w.writeFailed(ctx, rec.ID, "write", err)
			flushErr = err
			break
		}
		failed++
		op := "encode"
		if errors.Is(err, core.ErrSegmentFull) {
			op = "oversized"
		}
		w.writeFailed(ctx, rec.ID, op, err)
	}

	if w.syncFlush && flushErr == nil {
		if err := w.manager.Sync(); err != nil {
			w.writeFailed(ctx, "", "sync", err)
			flushErr = err
		}
	}

	elapsed := w.now().Sub(start)
	w.metrics.RecordBytes(written)
	w.metrics.RecordWriteLatency(elapsed)
	w.observeLatency(elapsed)
	w.metrics.SetFileSizes(w.manager.Sizes())
	w.metrics.SetQueueSize(int64(w.pending()))

	current, _ := w.manager.Current()
	span.SetAttributes(attribute.Int64("flush.bytes", written), attribute.Int("flush.failed", failed))
	if flushErr != nil {
		span.RecordError(flushErr)
		span.SetStatus(codes.Error, "flush incomplete")
	}
	w.trigger(hooks.NewPostFlushEvent(hooks.PostFlushPayload{
		Records:  len(pending) - failed,
		Failed:   failed,
		Bytes:    written,
		Duration: elapsed,
		Segment:  current.String(),
		Error:    flushErr,
	}))
	return flushErr
}

// observeLatency feeds the flush latency digest; flushMu is held.
func (w *batchWriter) observeLatency(d time.Duration) {
	if err := w.digest.AddWeighted(float64(d), 1); err != nil {
		return
	}
	w.metrics.SetLatencyQuantiles(time.Duration(w.digest.Quantile(0.5)), time.Duration(w.digest.Quantile(0.99)))
}

// resetLatency clears the running maximum and the quantile digest.
func (w *batchWriter) resetLatency() {
	w.metrics.ResetMaxLatency()
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	if td, err := tdigest.New(); err == nil {
		w.digest = td
	}
	w.metrics.SetLatencyQuantiles(0, 0)
}

// sampleMetrics refreshes the gauges that are not updated on the write path.
func (w *batchWriter) sampleMetrics(queueLen int) {
	w.metrics.SetQueueSize(int64(queueLen))
	w.metrics.SetFileSizes(w.manager.Sizes())
}

// close flushes what is left and closes the current pair.
func (w *batchWriter) close(ctx context.Context) error {
	flushErr := w.flush(ctx, "shutdown")
	if n := w.pending(); n > 0 {
		w.logger.Error("Records left unwritten at shutdown", "records", n)
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	return errors.Join(flushErr, w.manager.Close())
}

func (w *batchWriter) writeFailed(ctx context.Context, recordID, op string, err error) {
	w.metrics.RecordError()
	if w.errLimiter.Allow() {
		w.logger.Error("Write path error", "op", op, "record_id", recordID, "error", err)
	}
	w.trigger(hooks.NewOnWriteErrorEvent(hooks.WriteErrorPayload{RecordID: recordID, Op: op, Error: err}))
}

func (w *batchWriter) onSegmentCreate(p segment.PairInfo) {
	w.metrics.RecordFileCreated()
	w.trigger(hooks.NewPostSegmentCreateEvent(segmentPayload(p)))
}

func (w *batchWriter) onSegmentClose(p segment.PairInfo) {
	w.trigger(hooks.NewPostSegmentCloseEvent(segmentPayload(p)))
}

func segmentPayload(p segment.PairInfo) hooks.SegmentPayload {
	return hooks.SegmentPayload{
		Name:      p.Name.String(),
		DataPath:  p.DataPath,
		IndexPath: p.IndexPath,
		DataSize:  p.DataSize,
		IndexSize: p.IndexSize,
	}
}

func (w *batchWriter) trigger(event hooks.HookEvent) {
	if err := w.hooks.Trigger(context.Background(), event); err != nil {
		w.logger.Warn("Hook returned an error", "event", event.Type(), "error", err)
	}
}
