package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/INLOpen/nexuslog/core"
)

const DefaultPageSize = 20

// Messages reported in Result.Message.
const (
	MsgDirNotFound = "log directory not found"
	MsgNoFiles     = "no log files found"
)

// Request is a filtered, paginated search. Zero values disable a filter.
type Request struct {
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Path         string    `json:"path,omitempty"`         // substring of the record path
	StatusCode   int       `json:"statusCode,omitempty"`   // exact match
	MinDuration  int64     `json:"minDuration,omitempty"`  // ms
	MaxDuration  int64     `json:"maxDuration,omitempty"`  // ms
	ErrorKeyword string    `json:"errorKeyword,omitempty"` // substring of the exception message
	Expr         string    `json:"expr,omitempty"`         // CEL expression
	Page         int       `json:"page,omitempty"`
	PageSize     int       `json:"pageSize,omitempty"`
}

// Result is one page of matches. Total counts all matches before paging.
type Result struct {
	Total   int               `json:"total"`
	Logs    []core.CallRecord `json:"logs"`
	Message string            `json:"message,omitempty"`
}

// Window returns the request's time bounds in unix milliseconds. A zero start
// means the beginning of time, a zero end means now.
func (r *Request) Window(now time.Time) (startMs, endMs int64) {
	if !r.StartTime.IsZero() {
		startMs = r.StartTime.UnixMilli()
	}
	endMs = now.UnixMilli()
	if !r.EndTime.IsZero() {
		endMs = r.EndTime.UnixMilli()
	}
	return startMs, endMs
}

func (r *Request) normalizePaging(defaultPageSize int) (page, size int) {
	page, size = r.Page, r.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
		if size < 1 {
			size = DefaultPageSize
		}
	}
	return page, size
}

// Predicate builds the field filter for r, combined with its CEL expression.
func (r *Request) Predicate() (Predicate, error) {
	var expr *Expression
	if strings.TrimSpace(r.Expr) != "" {
		var err error
		if expr, err = CompileExpression(r.Expr); err != nil {
			return nil, err
		}
	}
	req := *r
	return func(rec *core.CallRecord) bool {
		if req.Path != "" && !strings.Contains(rec.Path, req.Path) {
			return false
		}
		if req.StatusCode > 0 && rec.StatusCode != req.StatusCode {
			return false
		}
		if req.MinDuration > 0 && rec.ExecutionTime < req.MinDuration {
			return false
		}
		if req.MaxDuration > 0 && rec.ExecutionTime > req.MaxDuration {
			return false
		}
		if req.ErrorKeyword != "" && !strings.Contains(rec.ExceptionMsg, req.ErrorKeyword) {
			return false
		}
		return expr == nil || expr.Match(rec)
	}, nil
}

// Search runs req against dir and applies pagination after the full
// newest-first sort. Query problems are reported through Result.Message; the
// returned error is reserved for an invalid request or a cancelled context.
func (e *Engine) Search(ctx context.Context, dir string, req Request, defaultPageSize int) (Result, error) {
	pred, err := req.Predicate()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	startMs, endMs := req.Window(time.Now())

	res, err := e.Scan(ctx, dir, startMs, endMs, pred)
	if err != nil {
		if errors.Is(err, ErrDirNotFound) {
			return Result{Logs: []core.CallRecord{}, Message: MsgDirNotFound}, nil
		}
		if ctx.Err() != nil {
			return Result{}, err
		}
		return Result{Logs: []core.CallRecord{}, Message: fmt.Sprintf("query failed: %v", err)}, nil
	}
	if res.Files == 0 {
		return Result{Logs: []core.CallRecord{}, Message: MsgNoFiles}, nil
	}

	page, size := req.normalizePaging(defaultPageSize)
	out := Result{Total: len(res.Records), Logs: Paginate(res.Records, page, size)}
	if res.FailedFiles > 0 {
		out.Message = fmt.Sprintf("%d of %d log files could not be read completely", res.FailedFiles, res.Files)
	}
	return out, nil
}

// Paginate returns page (1-based) of size items from recs. Pages past the end
// are empty, never nil.
func Paginate(recs []core.CallRecord, page, size int) []core.CallRecord {
	start := (page - 1) * size
	if start >= len(recs) || start < 0 {
		return []core.CallRecord{}
	}
	end := min(start+size, len(recs))
	return recs[start:end]
}

// timeLayouts are accepted by ParseTime, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a query bound given as RFC 3339, "yyyy-MM-dd HH:mm:ss"
// (local time) or unix milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
