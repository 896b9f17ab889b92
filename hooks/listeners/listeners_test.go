package listeners

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"log/slog"
	"testing"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

func TestRedactionListener(t *testing.T) {
	l := NewRedactionListener(nil, []string{"Authorization", "cookie"}, []string{"password", "token"})

	t.Run("masks headers case-insensitively", func(t *testing.T) {
		rec := &core.CallRecord{RequestHeaders: `{"authorization":"Bearer abc","Cookie":"sid=1","Accept":"*/*"}`}
		require.NoError(t, l.OnEvent(context.Background(), hooks.NewPreStoreEvent(hooks.PreStorePayload{Record: rec})))

		v, err := fastjson.Parse(rec.RequestHeaders)
		require.NoError(t, err)
		assert.Equal(t, DefaultMask, string(v.GetStringBytes("authorization")))
		assert.Equal(t, DefaultMask, string(v.GetStringBytes("Cookie")))
		assert.Equal(t, "*/*", string(v.GetStringBytes("Accept")))
	})

	t.Run("masks query parameters", func(t *testing.T) {
		rec := &core.CallRecord{RequestParams: "user=bob&password=hunter2"}
		require.NoError(t, l.OnEvent(context.Background(), hooks.NewPreStoreEvent(hooks.PreStorePayload{Record: rec})))
		assert.Equal(t, "password=%2A%2A%2A%2A%2A%2A&user=bob", rec.RequestParams)
	})

	t.Run("masks JSON body parameters", func(t *testing.T) {
		rec := &core.CallRecord{RequestParams: `{"user":"bob","Token":"t-1"}`}
		require.NoError(t, l.OnEvent(context.Background(), hooks.NewPreStoreEvent(hooks.PreStorePayload{Record: rec})))
		v, err := fastjson.Parse(rec.RequestParams)
		require.NoError(t, err)
		assert.Equal(t, DefaultMask, string(v.GetStringBytes("Token")))
		assert.Equal(t, "bob", string(v.GetStringBytes("user")))
	})

	t.Run("leaves unrelated and malformed values alone", func(t *testing.T) {
		rec := &core.CallRecord{
			RequestHeaders: `not json`,
			RequestParams:  "page=2",
		}
		require.NoError(t, l.OnEvent(context.Background(), hooks.NewPreStoreEvent(hooks.PreStorePayload{Record: rec})))
		assert.Equal(t, "not json", rec.RequestHeaders)
		assert.Equal(t, "page=2", rec.RequestParams)
	})

	t.Run("ignores other events", func(t *testing.T) {
		assert.NoError(t, l.OnEvent(context.Background(), hooks.NewPostFlushEvent(hooks.PostFlushPayload{})))
	})
}

func TestRedactionListener_ThroughManager(t *testing.T) {
	m := hooks.NewHookManager(nil)
	m.Register(hooks.EventPreStore, NewRedactionListener(nil, []string{"Authorization"}, nil))

	rec := &core.CallRecord{RequestHeaders: `{"Authorization":"secret"}`}
	require.NoError(t, m.Trigger(context.Background(), hooks.NewPreStoreEvent(hooks.PreStorePayload{Record: rec})))
	assert.Equal(t, `{"Authorization":"******"}`, rec.RequestHeaders)
}

func TestSlowFlushListener(t *testing.T) {
	var logBuf bytes.Buffer
	l := NewSlowFlushListener(slog.New(slog.NewJSONHandler(&logBuf, nil)), 50*time.Millisecond)

	require.NoError(t, l.OnEvent(context.Background(), hooks.NewPostFlushEvent(hooks.PostFlushPayload{
		Records: 100, Duration: 10 * time.Millisecond,
	})))
	assert.Empty(t, logBuf.String())
	assert.Zero(t, l.SlowFlushes())

	require.NoError(t, l.OnEvent(context.Background(), hooks.NewPostFlushEvent(hooks.PostFlushPayload{
		Records: 100, Bytes: 4096, Segment: "web-1_20240101000000_3", Duration: 120 * time.Millisecond, Error: errors.New("ignored"),
	})))
	out := logBuf.String()
	assert.Contains(t, out, "Slow flush detected")
	assert.Contains(t, out, `"duration_ms":120`)
	assert.Contains(t, out, `"segment":"web-1_20240101000000_3"`)
	assert.Equal(t, int64(1), l.SlowFlushes())
	assert.True(t, l.IsAsync())
}

func TestSegmentStatsListener(t *testing.T) {
	l := NewSegmentStatsListener(nil)
	before := segmentsClosed.Value()
	beforeBytes := segmentDataBytes.Value()

	for _, size := range []int64{1000, 3000} {
		require.NoError(t, l.OnEvent(context.Background(), hooks.NewPostSegmentCloseEvent(hooks.SegmentPayload{
			Name: "h_20240101000000_1", DataSize: size, IndexSize: 24,
		})))
	}
	require.NoError(t, l.OnEvent(context.Background(), hooks.NewPostSegmentCreateEvent(hooks.SegmentPayload{DataSize: 99})))

	assert.Equal(t, before+2, segmentsClosed.Value())
	assert.Equal(t, beforeBytes+4000, segmentDataBytes.Value())
	assert.NotNil(t, expvar.Get("nexuslog_segment_avg_data_bytes"))

	// A second listener shares the same counters.
	assert.Same(t, l.closed, NewSegmentStatsListener(nil).closed)
}
