// Package engine is the embeddable log store: producers call Store, a
// single consumer batches records into memory-mapped segment pairs, and
// Query scans the written segments.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/INLOpen/nexuslog/codec"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/hooks"
	"github.com/INLOpen/nexuslog/metrics"
	"github.com/INLOpen/nexuslog/query"
	"github.com/INLOpen/nexuslog/queue"
	"github.com/INLOpen/nexuslog/segment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// State is the lifecycle state of a LogStore.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// LogStore is the log store facade. One instance is shared by every
// producer in the process.
type LogStore struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	hooks   hooks.HookManager
	metrics *metrics.Registry
	query   *query.Engine

	// lifecycle serializes Start and Shutdown.
	lifecycle sync.Mutex

	// mu guards state and the per-run components below. Store holds it
	// shared while it registers with inflight.
	mu       sync.RWMutex
	state    State
	inflight sync.WaitGroup
	queue    *queue.Queue[*core.CallRecord]
	writer   *batchWriter
	manager  *segment.Manager
	stop     chan struct{}
	bg       sync.WaitGroup
	lastSeq  uint64
}

// New creates a stopped LogStore.
func New(opts Options) (*LogStore, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("log store: base dir must be set")
	}
	opts.applyDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewJSONCodec()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry(metrics.Options{PerformanceThreshold: opts.PerformanceThreshold, Now: opts.Now})
	}
	logger := opts.Logger.With("component", "LogStore")
	if opts.HookManager == nil {
		opts.HookManager = hooks.NewHookManager(opts.Logger)
	}

	s := &LogStore{
		opts:    opts,
		logger:  logger,
		hooks:   opts.HookManager,
		metrics: opts.Metrics,
	}
	if opts.TracerProvider != nil {
		s.tracer = opts.TracerProvider.Tracer("github.com/INLOpen/nexuslog/engine")
	} else {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}

	qe, err := query.NewEngine(query.Options{
		Codec:           opts.Codec,
		Workers:         opts.QueryWorkers,
		PruneByFileTime: opts.PruneByFileTime,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.query = qe
	return s, nil
}

func (s *LogStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *LogStore) Metrics() *metrics.Registry { return s.metrics }

func (s *LogStore) HookManager() hooks.HookManager { return s.hooks }

// DataDir is the directory holding the data segments.
func (s *LogStore) DataDir() string { return filepath.Join(s.opts.BaseDir, segment.DataDirName) }

// Start spins up the queue consumer and the flush, metrics and retention
// timers. Starting a running store is a no-op.
func (s *LogStore) Start(ctx context.Context) (err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() != StateStopped {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "LogStore.Start")
	defer span.End()
	span.SetAttributes(attribute.String("store.base_dir", s.opts.BaseDir))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "start failed")
		}
	}()

	if err := s.hooks.Trigger(ctx, hooks.NewPreStartEngineEvent(hooks.EngineLifecyclePayload{BaseDir: s.opts.BaseDir})); err != nil {
		return fmt.Errorf("log store start cancelled by pre-hook: %w", err)
	}
	s.setState(StateStarting)

	for _, dir := range []string{segment.DataDirName, segment.IndexDirName} {
		p := filepath.Join(s.opts.BaseDir, dir)
		if err := os.MkdirAll(p, 0755); err != nil {
			s.setState(StateStopped)
			return &core.IOError{Op: "create store dir", Path: p, Err: err}
		}
	}

	var w *batchWriter
	manager, err := segment.NewManager(segment.ManagerOptions{
		BaseDir:      s.opts.BaseDir,
		DataCapacity: s.opts.SegmentSize,
		Host:         s.opts.Host,
		Codec:        s.opts.Codec,
		Preallocate:  s.opts.Preallocate,
		Logger:       s.opts.Logger,
		Now:          s.opts.Now,
		FirstSeq:     s.lastSeq,
		OnCreate:     func(p segment.PairInfo) { w.onSegmentCreate(p) },
		OnClose:      func(p segment.PairInfo) { w.onSegmentClose(p) },
	})
	if err != nil {
		s.setState(StateStopped)
		return err
	}
	w, err = newBatchWriter(s.opts, manager, s.hooks, s.metrics, s.tracer, s.opts.Logger)
	if err != nil {
		s.setState(StateStopped)
		return err
	}
	q := queue.New[*core.CallRecord](s.opts.RingBufferSize)
	stop := make(chan struct{})

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		q.Consume(w.onRecord)
	}()
	s.runEvery(stop, s.opts.FlushInterval, func() { _ = w.flush(context.Background(), "timer") })
	s.runEvery(stop, s.opts.MetricsInterval, func() { w.sampleMetrics(q.Len()) })
	if s.opts.RetentionPeriod > 0 {
		rc := &retentionCleaner{
			baseDir: s.opts.BaseDir,
			period:  s.opts.RetentionPeriod,
			current: manager.Current,
			now:     s.opts.Now,
			logger:  s.opts.Logger.With("component", "RetentionCleaner"),
		}
		s.runEvery(stop, s.opts.RetentionCheckInterval, func() {
			if _, err := rc.sweep(); err != nil {
				s.logger.Error("Retention sweep failed", "error", err)
			}
		})
	}

	s.mu.Lock()
	s.queue, s.writer, s.manager, s.stop = q, w, manager, stop
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("Log store started",
		"base_dir", s.opts.BaseDir,
		"segment_size", s.opts.SegmentSize,
		"flush_threshold", s.opts.FlushThreshold,
		"flush_interval", s.opts.FlushInterval,
		"ring_buffer_size", s.opts.RingBufferSize,
		"codec", s.opts.Codec.Name(),
	)
	_ = s.hooks.Trigger(ctx, hooks.NewPostStartEngineEvent(hooks.EngineLifecyclePayload{BaseDir: s.opts.BaseDir}))
	return nil
}

func (s *LogStore) runEvery(stop <-chan struct{}, interval time.Duration, fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *LogStore) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Store enqueues a copy of rec, blocking while the queue is full. It fails
// with core.ErrNotRunning unless the store is running. PreStore listeners
// see and may modify the copy; a listener error rejects the record.
func (s *LogStore) Store(ctx context.Context, rec *core.CallRecord) error {
	if rec == nil {
		return fmt.Errorf("log store: nil record")
	}
	s.mu.RLock()
	if s.state != StateRunning {
		s.mu.RUnlock()
		return core.ErrNotRunning
	}
	s.inflight.Add(1)
	q := s.queue
	s.mu.RUnlock()
	defer s.inflight.Done()

	r := *rec
	if err := s.hooks.Trigger(ctx, hooks.NewPreStoreEvent(hooks.PreStorePayload{Record: &r})); err != nil {
		return err
	}
	if err := q.Publish(ctx, &r); err != nil {
		s.metrics.RecordError()
		return err
	}
	s.metrics.RecordProcessed(1)
	return nil
}

// StoreBatch stores each record in order. It is not atomic: records before
// a failing one stay stored.
func (s *LogStore) StoreBatch(ctx context.Context, recs []*core.CallRecord) error {
	for i, rec := range recs {
		if err := s.Store(ctx, rec); err != nil {
			return fmt.Errorf("record %d of %d: %w", i+1, len(recs), err)
		}
	}
	return nil
}

// Flush writes the pending batch now. Records still in the queue are not
// included.
func (s *LogStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	w, running := s.writer, s.state == StateRunning
	s.mu.RUnlock()
	if !running {
		return core.ErrNotRunning
	}
	return w.flush(ctx, "manual")
}

// ResetLatency clears the maximum write latency and the latency quantiles.
func (s *LogStore) ResetLatency() {
	s.mu.RLock()
	w := s.writer
	s.mu.RUnlock()
	if w != nil {
		w.resetLatency()
		return
	}
	s.metrics.ResetMaxLatency()
}

// Query returns up to limit records in [startMs, endMs] matching pred,
// newest first. A limit <= 0 returns every match. Queries read the segment
// files directly and work whether or not the store is running.
func (s *LogStore) Query(ctx context.Context, pred query.Predicate, startMs, endMs int64, limit int) ([]core.CallRecord, error) {
	ctx, span := s.tracer.Start(ctx, "LogStore.Query")
	defer span.End()

	if err := s.hooks.Trigger(ctx, hooks.NewPreQueryEvent(hooks.PreQueryPayload{StartMs: &startMs, EndMs: &endMs})); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query cancelled by pre-hook")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("query.start_ms", startMs), attribute.Int64("query.end_ms", endMs), attribute.Int("query.limit", limit))

	start := time.Now()
	res, err := s.query.Scan(ctx, s.DataDir(), startMs, endMs, pred)
	if errors.Is(err, query.ErrDirNotFound) {
		err = nil
	}
	recs := res.Records
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
	}
	span.SetAttributes(attribute.Int("query.matches", len(res.Records)), attribute.Int("query.failed_files", res.FailedFiles))
	_ = s.hooks.Trigger(ctx, hooks.NewPostQueryEvent(hooks.PostQueryPayload{
		StartMs: startMs, EndMs: endMs, Matches: len(res.Records), FailedFiles: res.FailedFiles,
		Duration: time.Since(start), Error: err,
	}))
	return recs, err
}

// Search runs a filtered, paginated query. Problems reading files are
// reported in the result message.
func (s *LogStore) Search(ctx context.Context, req query.Request, defaultPageSize int) (query.Result, error) {
	ctx, span := s.tracer.Start(ctx, "LogStore.Search")
	defer span.End()

	startMs, endMs := req.Window(s.opts.Now())
	if err := s.hooks.Trigger(ctx, hooks.NewPreQueryEvent(hooks.PreQueryPayload{StartMs: &startMs, EndMs: &endMs})); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query cancelled by pre-hook")
		return query.Result{}, err
	}
	req.StartTime, req.EndTime = time.UnixMilli(startMs), time.UnixMilli(endMs)

	start := time.Now()
	res, err := s.query.Search(ctx, s.DataDir(), req, defaultPageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
	}
	span.SetAttributes(attribute.Int("query.total", res.Total), attribute.String("query.message", res.Message))
	_ = s.hooks.Trigger(ctx, hooks.NewPostQueryEvent(hooks.PostQueryPayload{
		StartMs: startMs, EndMs: endMs, Matches: res.Total, Duration: time.Since(start), Error: err,
	}))
	return res, err
}

// Shutdown stops accepting records, drains the queue, flushes the pending
// batch and closes the current segment pair. It is a no-op unless the store
// is running, so it may be called repeatedly or before Start.
func (s *LogStore) Shutdown(ctx context.Context) (err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() != StateRunning {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "LogStore.Shutdown")
	defer span.End()

	if err := s.hooks.Trigger(ctx, hooks.NewPreCloseEngineEvent(hooks.EngineLifecyclePayload{BaseDir: s.opts.BaseDir})); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shutdown cancelled by pre-hook")
		return fmt.Errorf("log store shutdown cancelled by pre-hook: %w", err)
	}

	s.mu.Lock()
	s.state = StateStopping
	q, w, manager, stop := s.queue, s.writer, s.manager, s.stop
	s.mu.Unlock()

	// Producers that got past the state check finish publishing first; the
	// consumer is still draining, so blocked publishers make progress.
	s.inflight.Wait()
	close(stop)
	q.Close()
	s.bg.Wait()

	err = w.close(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "final flush failed")
		s.logger.Error("Errors during shutdown", "error", err)
	}
	s.metrics.SetQueueSize(0)
	s.metrics.SetFileSizes(0, 0)
	s.hooks.Stop()

	s.mu.Lock()
	s.lastSeq = manager.LastSeq()
	s.queue, s.writer, s.manager, s.stop = nil, nil, nil, nil
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("Log store stopped")
	_ = s.hooks.Trigger(ctx, hooks.NewPostCloseEngineEvent(hooks.EngineLifecyclePayload{BaseDir: s.opts.BaseDir}))
	return err
}
