package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/nexuslog/codec"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/hooks"
	"github.com/INLOpen/nexuslog/metrics"
	"github.com/INLOpen/nexuslog/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var testEpoch = time.Date(2024, 6, 1, 9, 30, 0, 0, time.Local)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type writerFixture struct {
	w       *batchWriter
	reg     *metrics.Registry
	manager *segment.Manager
	hooks   hooks.HookManager
	baseDir string
	created []segment.PairInfo
}

func newWriterFixture(t *testing.T, baseDir string, capacity int64, threshold int) *writerFixture {
	t.Helper()
	f := &writerFixture{
		reg:     metrics.NewRegistry(metrics.Options{}),
		hooks:   hooks.NewHookManager(nil),
		baseDir: baseDir,
	}
	opts := Options{BaseDir: baseDir, SegmentSize: capacity, FlushThreshold: threshold}
	opts.applyDefaults()

	m, err := segment.NewManager(segment.ManagerOptions{
		BaseDir:      baseDir,
		DataCapacity: capacity,
		Host:         "web-1",
		Codec:        codec.NewJSONCodec(),
		Now:          func() time.Time { return testEpoch },
		OnCreate: func(p segment.PairInfo) {
			f.created = append(f.created, p)
			f.w.onSegmentCreate(p)
		},
		OnClose: func(p segment.PairInfo) { f.w.onSegmentClose(p) },
	})
	require.NoError(t, err)
	f.manager = m

	f.w, err = newBatchWriter(opts, m, f.hooks, f.reg, noop.NewTracerProvider().Tracer(""), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.w.close(context.Background()) })
	return f
}

func testRecord(id string, ts time.Time) *core.CallRecord {
	return &core.CallRecord{
		ID:            id,
		Hostname:      "web-1",
		RequestTime:   ts.UnixMilli(),
		Path:          "/api/orders",
		Method:        "GET",
		StatusCode:    200,
		ExecutionTime: 7,
	}
}

func frameLen(t *testing.T, rec *core.CallRecord) int64 {
	t.Helper()
	b, err := codec.NewJSONCodec().Encode(rec)
	require.NoError(t, err)
	return int64(len(b))
}

// frameIDs decodes every frame of a data segment.
func frameIDs(t *testing.T, path string) []string {
	t.Helper()
	region, err := os.ReadFile(path)
	require.NoError(t, err)
	c := codec.NewJSONCodec()
	var ids []string
	for off := 0; ; {
		frame, err := codec.NextFrame(region, off)
		require.NoError(t, err)
		if frame == nil {
			return ids
		}
		rec, err := c.Decode(frame)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		off += len(frame)
	}
}

func dataFiles(t *testing.T, baseDir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(baseDir, segment.DataDirName, "*"+segment.DataFileSuffix))
	require.NoError(t, err)
	sort.Strings(matches)
	return matches
}

func TestBatchWriter_FlushesAtThreshold(t *testing.T) {
	f := newWriterFixture(t, t.TempDir(), 64*1024, 3)

	f.w.onRecord(testRecord("a", testEpoch), false)
	f.w.onRecord(testRecord("b", testEpoch), false)
	assert.Equal(t, 2, f.w.pending())
	assert.Empty(t, f.created, "nothing is written below the threshold")

	f.w.onRecord(testRecord("c", testEpoch), false)
	assert.Zero(t, f.w.pending())
	require.Len(t, f.created, 1)
	assert.Equal(t, []string{"a", "b", "c"}, frameIDs(t, f.created[0].DataPath))
}

func TestBatchWriter_FlushesAtEndOfBatch(t *testing.T) {
	f := newWriterFixture(t, t.TempDir(), 64*1024, 100)

	f.w.onRecord(testRecord("only", testEpoch), true)
	assert.Zero(t, f.w.pending())
	require.Len(t, f.created, 1)
	assert.Equal(t, []string{"only"}, frameIDs(t, f.created[0].DataPath))
}

func TestBatchWriter_RolloverScenario(t *testing.T) {
	f := newWriterFixture(t, t.TempDir(), 1024, 2)

	a, b := testRecord("A", testEpoch), testRecord("B", testEpoch.Add(time.Second))
	f.w.onRecord(a, false)
	f.w.onRecord(b, false)

	require.Len(t, f.created, 1)
	s := f.reg.Snapshot()
	assert.Equal(t, int64(1), s.TotalFiles)
	assert.Equal(t, frameLen(t, a)+frameLen(t, b), s.CurrentDataFileSize)
	assert.Equal(t, int64(2*core.IndexEntrySize), s.CurrentIndexFileSize)

	c, d := testRecord("C", testEpoch.Add(2*time.Second)), testRecord("D", testEpoch.Add(3*time.Second))
	c.ResponseBody = strings.Repeat("c", 300)
	d.ResponseBody = strings.Repeat("d", 300)
	require.Greater(t, s.CurrentDataFileSize+frameLen(t, c)+frameLen(t, d), int64(1024))

	f.w.onRecord(c, false)
	f.w.onRecord(d, false)

	require.Len(t, f.created, 2)
	assert.Equal(t, int64(2), f.reg.Snapshot().TotalFiles)
	assert.Equal(t, []string{"A", "B"}, frameIDs(t, f.created[0].DataPath))
	assert.Equal(t, []string{"C", "D"}, frameIDs(t, f.created[1].DataPath))
	assert.Equal(t, frameLen(t, a)+frameLen(t, b)+frameLen(t, c)+frameLen(t, d), f.reg.Snapshot().TotalBytes)
}

func TestBatchWriter_OversizedRecordIsDropped(t *testing.T) {
	f := newWriterFixture(t, t.TempDir(), 4096, 3)
	var writeErrors []hooks.WriteErrorPayload
	f.hooks.Register(hooks.EventOnWriteError, hooks.ListenerFunc{Fn: func(ctx context.Context, e hooks.HookEvent) error {
		writeErrors = append(writeErrors, e.Payload().(hooks.WriteErrorPayload))
		return nil
	}})

	huge := testRecord("huge", testEpoch)
	huge.ResponseBody = strings.Repeat("x", 8000)
	f.w.onRecord(testRecord("before", testEpoch), false)
	f.w.onRecord(huge, false)
	f.w.onRecord(testRecord("after", testEpoch), false)

	require.NotEmpty(t, f.created)
	var ids []string
	for _, p := range f.created {
		ids = append(ids, frameIDs(t, p.DataPath)...)
	}
	assert.Equal(t, []string{"before", "after"}, ids)
	assert.Equal(t, int64(1), f.reg.TotalErrors())
	require.Len(t, writeErrors, 1)
	assert.Equal(t, "huge", writeErrors[0].RecordID)
	assert.Equal(t, "oversized", writeErrors[0].Op)
	assert.Zero(t, f.w.pending())
}

func TestBatchWriter_KeepsBatchWhenRolloverFails(t *testing.T) {
	// A regular file where the base directory should be makes every
	// rollover fail.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	f := newWriterFixture(t, blocker, 64*1024, 2)
	var overflows int
	f.hooks.Register(hooks.EventOnCacheOverflow, hooks.ListenerFunc{Fn: func(ctx context.Context, e hooks.HookEvent) error {
		overflows++
		return nil
	}})

	for i := 0; i < 5; i++ {
		f.w.onRecord(testRecord(string(rune('a'+i)), testEpoch), false)
	}

	assert.Equal(t, 5, f.w.pending(), "no record is discarded")
	s := f.reg.Snapshot()
	assert.Equal(t, int64(4), s.TotalErrors, "one failed flush per record from the threshold on")
	assert.Equal(t, int64(2), s.CacheOverflows, "records four and five were added at or past twice the threshold")
	assert.Equal(t, 1, overflows, "the hook fires once when the batch crosses the mark")
	assert.Equal(t, metrics.StatusWarning, s.Status.Health)
	assert.Empty(t, f.created)

	err := f.w.flush(context.Background(), "manual")
	assert.True(t, core.IsIOError(err))
	assert.Equal(t, 5, f.w.pending())
}

func TestBatchWriter_LatencyMetrics(t *testing.T) {
	f := newWriterFixture(t, t.TempDir(), 64*1024, 1)
	for i := 0; i < 10; i++ {
		f.w.onRecord(testRecord("r", testEpoch), false)
	}
	s := f.reg.Snapshot()
	assert.Greater(t, s.MaxWriteLatencyMs, 0.0)
	assert.LessOrEqual(t, s.WriteLatencyP50Ms, s.MaxWriteLatencyMs)

	f.w.resetLatency()
	s = f.reg.Snapshot()
	assert.Zero(t, s.MaxWriteLatencyMs)
	assert.Zero(t, s.WriteLatencyP99Ms)
}

func TestBatchWriter_CloseFlushesPendingAndIsIdempotent(t *testing.T) {
	f := newWriterFixture(t, t.TempDir(), 64*1024, 10)
	f.w.onRecord(testRecord("x", testEpoch), false)
	f.w.onRecord(testRecord("y", testEpoch), false)

	require.NoError(t, f.w.close(context.Background()))
	require.NoError(t, f.w.close(context.Background()))
	files := dataFiles(t, f.baseDir)
	require.Len(t, files, 1)
	assert.Equal(t, []string{"x", "y"}, frameIDs(t, files[0]))
	_, open := f.manager.Current()
	assert.False(t, open)
}
