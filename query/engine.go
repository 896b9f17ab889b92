// Package query scans data segments for call records.
//
// Scans are linear: every data file in the directory is mapped read-only and
// decoded frame by frame. Files are processed in parallel on a bounded worker
// pool and the combined result is sorted newest first.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/INLOpen/nexuslog/codec"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/segment"
	"github.com/INLOpen/nexuslog/sys"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers = 4

	// pruneSlack is how far past the window end a file may have been created
	// and still be scanned when pruning by file time.
	pruneSlack = time.Minute

	// ctxCheckInterval is the number of frames decoded between context checks.
	ctxCheckInterval = 1024
)

var (
	// ErrDirNotFound is returned when the data directory does not exist.
	ErrDirNotFound = errors.New("log directory not found")
	// ErrInvalidExpression wraps CEL compile errors from Search.
	ErrInvalidExpression = errors.New("invalid query expression")
)

// Predicate reports whether a decoded record belongs in the result.
type Predicate func(rec *core.CallRecord) bool

// MatchAll accepts every record.
func MatchAll(*core.CallRecord) bool { return true }

type Options struct {
	Codec   core.Codec
	Workers int

	// PruneByFileTime skips files whose name timestamp is later than the end
	// of the window. Off by default: records inside a file are only ever
	// filtered by their own timestamp.
	PruneByFileTime bool

	Logger *slog.Logger
}

// Engine runs read-only scans. It shares no locks with the write path and is
// safe for concurrent use.
type Engine struct {
	codec   core.Codec
	workers int
	prune   bool
	logger  *slog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("query engine: codec must be set")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		codec:   opts.Codec,
		workers: opts.Workers,
		prune:   opts.PruneByFileTime,
		logger:  opts.Logger.With("component", "QueryEngine"),
	}, nil
}

// ScanResult is the outcome of a scan over one directory.
type ScanResult struct {
	// Records matching the window and predicate, newest first.
	Records []core.CallRecord
	// Files is the number of data files considered.
	Files int
	// FailedFiles counts files that could not be read or stopped early on a
	// corrupt frame. Records decoded before the corruption are kept.
	FailedFiles int
}

// Scan returns every record in dir's data files with startMs <= RequestTime
// <= endMs that satisfies pred. A nil pred matches everything. Unreadable or
// corrupt files degrade the result instead of failing it; only a missing
// directory or a cancelled context return an error.
func (e *Engine) Scan(ctx context.Context, dir string, startMs, endMs int64, pred Predicate) (ScanResult, error) {
	if pred == nil {
		pred = MatchAll
	}
	files, err := e.listDataFiles(dir, endMs)
	if err != nil {
		return ScanResult{}, err
	}

	perFile := make([][]core.CallRecord, len(files))
	failed := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, path := range files {
		g.Go(func() error {
			recs, err := e.scanFile(gctx, path, startMs, endMs, pred)
			perFile[i] = recs
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed[i] = true
				e.logger.Error("Failed to read data file", "path", path, "records_kept", len(recs), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{Files: len(files)}
	for i, recs := range perFile {
		res.Records = append(res.Records, recs...)
		if failed[i] {
			res.FailedFiles++
		}
	}
	sort.SliceStable(res.Records, func(a, b int) bool {
		return res.Records[a].RequestTime > res.Records[b].RequestTime
	})
	return res, nil
}

// listDataFiles returns the *.data files in dir in name order.
func (e *Engine) listDataFiles(dir string, endMs int64) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		return nil, &core.IOError{Op: "readdir", Path: dir, Err: err}
	}
	var cutoff time.Time
	if e.prune {
		cutoff = time.UnixMilli(endMs).Add(pruneSlack)
	}
	files := make([]string, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), segment.DataFileSuffix) {
			continue
		}
		if e.prune {
			// Files with unparsable names are always scanned.
			if n, err := segment.ParseName(de.Name()); err == nil && n.Created.After(cutoff) {
				continue
			}
		}
		files = append(files, filepath.Join(dir, de.Name()))
	}
	return files, nil
}

func (e *Engine) scanFile(ctx context.Context, path string, startMs, endMs int64, pred Predicate) ([]core.CallRecord, error) {
	region, release, err := mapReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []core.CallRecord
	for off, n := 0, 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		frame, err := codec.NextFrame(region, off)
		if err != nil {
			return out, err
		}
		if frame == nil {
			return out, nil
		}
		rec, err := e.codec.Decode(frame)
		if err != nil {
			if de := (*core.DecodeError)(nil); errors.As(err, &de) && de.Offset == 0 {
				de.Offset = int64(off)
			}
			return out, err
		}
		off += len(frame)
		if rec.RequestTime < startMs || rec.RequestTime > endMs {
			continue
		}
		if pred(&rec) {
			out = append(out, rec)
		}
	}
}

// mapReadOnly maps path for reading. Platforms without mmap read the file
// into memory instead. Empty files yield an empty region.
func mapReadOnly(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &core.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, &core.IOError{Op: "stat", Path: path, Err: err}
	}
	if fi.Size() == 0 {
		return nil, func() {}, nil
	}
	region, err := sys.MapFile(f, int(fi.Size()), false)
	if errors.Is(err, sys.ErrMmapNotSupported) {
		b, rerr := io.ReadAll(f)
		if rerr != nil {
			return nil, nil, &core.IOError{Op: "read", Path: path, Err: rerr}
		}
		return b, func() {}, nil
	}
	if err != nil {
		return nil, nil, &core.IOError{Op: "mmap", Path: path, Err: err}
	}
	sys.AdviseSequential(region)
	return region, func() { _ = sys.UnmapFile(region) }, nil
}
