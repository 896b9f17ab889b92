package query

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Predicate(t *testing.T) {
	rec := core.CallRecord{
		Path:          "/api/orders/42",
		StatusCode:    500,
		ExecutionTime: 250,
		ExceptionMsg:  "java.lang.IllegalStateException: boom",
		Method:        "POST",
	}
	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"empty request matches", Request{}, true},
		{"path substring", Request{Path: "orders"}, true},
		{"path mismatch", Request{Path: "users"}, false},
		{"status exact", Request{StatusCode: 500}, true},
		{"status mismatch", Request{StatusCode: 200}, false},
		{"min duration", Request{MinDuration: 250}, true},
		{"below min duration", Request{MinDuration: 251}, false},
		{"above max duration", Request{MaxDuration: 100}, false},
		{"error keyword", Request{ErrorKeyword: "IllegalState"}, true},
		{"error keyword missing", Request{ErrorKeyword: "timeout"}, false},
		{"expression", Request{Expr: `status >= 500 && method == "POST"`}, true},
		{"expression false", Request{Expr: `duration_ms < 100`}, false},
		{"fields and expression", Request{Path: "orders", Expr: `exception.contains("boom")`}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := tc.req.Predicate()
			require.NoError(t, err)
			assert.Equal(t, tc.want, pred(&rec))
		})
	}
}

func TestCompileExpression_Errors(t *testing.T) {
	for _, expr := range []string{"", "status >=", "path + 1", `path`} {
		t.Run(fmt.Sprintf("%q", expr), func(t *testing.T) {
			_, err := CompileExpression(expr)
			assert.Error(t, err)
		})
	}

	_, err := (&Request{Expr: "nope("}).Predicate()
	assert.Error(t, err)
}

func TestPaginate(t *testing.T) {
	recs := make([]core.CallRecord, 45)
	for i := range recs {
		recs[i].ID = fmt.Sprint(i)
	}
	assert.Len(t, Paginate(recs, 1, 20), 20)
	assert.Equal(t, "20", Paginate(recs, 2, 20)[0].ID)
	assert.Len(t, Paginate(recs, 3, 20), 5)
	page := Paginate(recs, 4, 20)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestRequest_Window(t *testing.T) {
	now := time.UnixMilli(5000)
	s, e := (&Request{}).Window(now)
	assert.Equal(t, int64(0), s)
	assert.Equal(t, int64(5000), e)

	s, e = (&Request{StartTime: time.UnixMilli(10), EndTime: time.UnixMilli(20)}).Window(now)
	assert.Equal(t, int64(10), s)
	assert.Equal(t, int64(20), e)
}

func TestSearch(t *testing.T) {
	var recs []core.CallRecord
	for i := 0; i < 25; i++ {
		r := callRecord(fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Second))
		if i%5 == 0 {
			r.StatusCode = 500
		}
		recs = append(recs, r)
	}
	dir := writeRecords(t, 64*1024, recs...)
	e := newTestEngine(t, false)
	ctx := context.Background()
	window := Request{StartTime: base, EndTime: base.Add(time.Hour)}

	t.Run("paged newest first", func(t *testing.T) {
		req := window
		req.Page = 2
		res, err := e.Search(ctx, dir, req, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, res.Total)
		require.Len(t, res.Logs, 10)
		assert.Equal(t, "r14", res.Logs[0].ID)
		assert.Empty(t, res.Message)
	})

	t.Run("filtered", func(t *testing.T) {
		req := window
		req.StatusCode = 500
		res, err := e.Search(ctx, dir, req, 0)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Total)
		assert.Equal(t, []string{"r20", "r15", "r10", "r05", "r00"}, ids(res.Logs))
	})

	t.Run("invalid expression", func(t *testing.T) {
		req := window
		req.Expr = "status >"
		_, err := e.Search(ctx, dir, req, 0)
		assert.ErrorIs(t, err, ErrInvalidExpression)
	})

	t.Run("missing directory", func(t *testing.T) {
		res, err := e.Search(ctx, filepath.Join(dir, "missing"), window, 0)
		require.NoError(t, err)
		assert.Equal(t, MsgDirNotFound, res.Message)
		assert.Zero(t, res.Total)
		assert.NotNil(t, res.Logs)
	})

	t.Run("no files", func(t *testing.T) {
		res, err := e.Search(ctx, t.TempDir(), window, 0)
		require.NoError(t, err)
		assert.Equal(t, MsgNoFiles, res.Message)
	})
}

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T12:00:00Z", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-05-01 12:00:00", time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)},
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)},
		{"1714564800000", time.UnixMilli(1714564800000)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTime(tc.in)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}

	got, err := ParseTime("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
