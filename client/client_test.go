package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/nexuslog/auth"
	"github.com/INLOpen/nexuslog/config"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/engine"
	"github.com/INLOpen/nexuslog/query"
	"github.com/INLOpen/nexuslog/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, authN auth.Authenticator) (*httptest.Server, *engine.LogStore) {
	t.Helper()
	opts := engine.DefaultOptions(t.TempDir())
	opts.SegmentSize = 64 * 1024
	opts.Preallocate = false
	opts.Logger = discardLogger()
	store, err := engine.New(opts)
	require.NoError(t, err)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Shutdown(context.Background()) })

	cfg := config.Default()
	cfg.Capture.Enabled = false
	if authN == nil {
		authN = auth.NewNonAuthenticator()
	}
	ts := httptest.NewServer(server.NewHandler(cfg, store, authN, discardLogger()))
	t.Cleanup(ts.Close)
	return ts, store
}

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"no scheme", "localhost:8080"},
		{"bad scheme", "ftp://localhost"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(Options{Address: tc.address})
			assert.Error(t, err)
		})
	}
}

func TestClient_IngestAndSearch(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	c, err := New(Options{Address: ts.URL + "/", RequestsPerSecond: 1000})
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	recs := []core.CallRecord{
		{ID: "ok", Path: "/api/orders", Method: "GET", StatusCode: 200, RequestTime: base.UnixMilli(), ExecutionTime: 5},
		{ID: "bad", Path: "/api/pay", Method: "POST", StatusCode: 502, RequestTime: base.Add(time.Second).UnixMilli(), ExecutionTime: 900},
	}
	n, err := c.Ingest(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Ingest(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	req := query.Request{StartTime: base.Add(-time.Minute), EndTime: base.Add(time.Minute), Expr: "status >= 500"}
	require.Eventually(t, func() bool {
		res, err := c.Search(ctx, req)
		return err == nil && res.Total == 1
	}, 5*time.Second, 20*time.Millisecond)

	res, err := c.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "bad", res.Logs[0].ID)

	require.Eventually(t, func() bool {
		m, err := c.Metrics(ctx)
		return err == nil && m["totalProcessed"] == float64(2)
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, c.ResetLatency(ctx))
}

func TestClient_InvalidExpression(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	c, err := New(Options{Address: ts.URL})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), query.Request{Expr: "status >>> 1"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestClient_Unavailable(t *testing.T) {
	ts, store := newTestServer(t, nil)
	require.NoError(t, store.Shutdown(context.Background()))
	c, err := New(Options{Address: ts.URL})
	require.NoError(t, err)

	_, err = c.Ingest(context.Background(), []core.CallRecord{{ID: "x", Path: "/p"}})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
}

func TestClient_BasicAuth(t *testing.T) {
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, auth.WriteUserFile(path, map[string]auth.User{
		"ro": {Username: "ro", PasswordHash: hash, Role: auth.RoleReader},
	}))
	authN, err := auth.NewAuthenticator(path, discardLogger())
	require.NoError(t, err)
	ts, _ := newTestServer(t, authN)
	ctx := context.Background()

	anon, err := New(Options{Address: ts.URL})
	require.NoError(t, err)
	_, err = anon.Search(ctx, query.Request{})
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	reader, err := New(Options{Address: ts.URL, Username: "ro", Password: "secret"})
	require.NoError(t, err)
	_, err = reader.Search(ctx, query.Request{})
	require.NoError(t, err)

	_, err = reader.Ingest(ctx, []core.CallRecord{{ID: "x"}})
	assert.True(t, IsStatus(err, http.StatusForbidden))
}

func TestClient_ContextCanceled(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	c, err := New(Options{Address: ts.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Metrics(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
