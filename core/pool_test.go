package core

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool(t *testing.T) {
	t.Run("Get and Put", func(t *testing.T) {
		pool := NewBufferPool(64)

		buf := pool.Get()
		require.NotNil(t, buf)
		assert.GreaterOrEqual(t, buf.Cap(), 64)

		buf.WriteString("hello world")
		assert.Equal(t, "hello world", buf.String())
		pool.Put(buf)

		buf2 := pool.Get()
		assert.Equal(t, 0, buf2.Len(), "Reused buffer should be reset")
	})

	t.Run("Oversized buffers are dropped", func(t *testing.T) {
		pool := NewBufferPool(0)
		big := bytes.NewBuffer(make([]byte, 0, 2<<20))
		pool.Put(big)
		_, _, dropped := pool.GetMetrics()
		assert.Equal(t, uint64(1), dropped)
	})

	t.Run("Concurrent access", func(t *testing.T) {
		pool := NewBufferPool(16)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					b := pool.Get()
					b.WriteString("x")
					pool.Put(b)
				}
			}()
		}
		wg.Wait()
		hits, misses, _ := pool.GetMetrics()
		assert.Equal(t, uint64(5000), hits+misses)
	})
}

func TestIndexEntry_RoundTrip(t *testing.T) {
	e := IndexEntry{Offset: 1 << 40, Length: 517}
	b := e.Bytes()
	require.Len(t, b, IndexEntrySize)

	got, err := DecodeIndexEntry(b)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = DecodeIndexEntry(b[:11])
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestParseCompressionType(t *testing.T) {
	for in, want := range map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"Snappy": CompressionSnappy,
		"lz4":    CompressionLZ4,
		"zstd":   CompressionZSTD,
	} {
		got, err := ParseCompressionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompressionType("brotli")
	assert.Error(t, err)
}
