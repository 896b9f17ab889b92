package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool hands out scratch buffers for encoding and compression.
// Buffers that grew past maxRetain are dropped on Put so one oversized
// record does not pin memory for the life of the process.
type bufferPool struct {
	pool      sync.Pool
	capacity  int
	maxRetain int

	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// DefaultBufferSize fits a typical encoded call record.
const DefaultBufferSize = 4 * 1024

// BufferPool is the shared scratch buffer pool used by codecs and compressors.
var BufferPool = NewBufferPool(DefaultBufferSize)

// NewBufferPool creates a new buffer pool whose fresh buffers start with the given capacity.
func NewBufferPool(capacity int) *bufferPool {
	if capacity < 0 {
		capacity = 0
	}
	return &bufferPool{capacity: capacity, maxRetain: 1 << 20}
}

// Get retrieves a reset buffer from the pool, allocating when it is empty.
func (bp *bufferPool) Get() *bytes.Buffer {
	if v := bp.pool.Get(); v != nil {
		bp.hits.Add(1)
		return v.(*bytes.Buffer)
	}
	bp.misses.Add(1)
	return bytes.NewBuffer(make([]byte, 0, bp.capacity))
}

// Put resets buf and returns it to the pool.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > bp.maxRetain {
		bp.dropped.Add(1)
		return
	}
	buf.Reset()
	bp.pool.Put(buf)
}

// GetMetrics returns hit, miss and drop counts.
func (bp *bufferPool) GetMetrics() (hits, misses, dropped uint64) {
	return bp.hits.Load(), bp.misses.Load(), bp.dropped.Load()
}
