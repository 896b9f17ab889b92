package compressors

import (
	"bytes"
	"fmt"

	"github.com/INLOpen/nexuslog/core"
)

// bytesReadCloser adapts an in-memory result to io.ReadCloser.
// There is nothing to release, so Close is a no-op.
type bytesReadCloser struct {
	*bytes.Reader
}

func (b *bytesReadCloser) Close() error { return nil }

func newBytesReadCloser(p []byte) *bytesReadCloser {
	return &bytesReadCloser{Reader: bytes.NewReader(p)}
}

// New returns the compressor for the given type.
func New(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", ct)
	}
}
