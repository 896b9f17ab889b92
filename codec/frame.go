// Package codec encodes call records into length-prefixed frames:
//
//	[u32 big-endian payload length][payload]
//
// Data segments are a plain concatenation of such frames.
package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/INLOpen/nexuslog/core"
)

// MaxPayloadSize rejects absurd length prefixes read from corrupt files.
const MaxPayloadSize = 64 * 1024 * 1024

// appendFrame prefixes payload with its length.
func appendFrame(dst, payload []byte) []byte {
	var hdr [core.FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// sealFrame writes the length of buf[4:] into buf[0:4]. buf must start with
// a reserved 4-byte header.
func sealFrame(buf []byte) []byte {
	binary.BigEndian.PutUint32(buf[:core.FrameHeaderSize], uint32(len(buf)-core.FrameHeaderSize))
	return buf
}

// SplitFrame validates the frame at the start of b and returns its payload.
func SplitFrame(b []byte) ([]byte, error) {
	if len(b) < core.FrameHeaderSize {
		return nil, &core.DecodeError{Reason: fmt.Sprintf("frame header needs %d bytes, have %d", core.FrameHeaderSize, len(b))}
	}
	n := binary.BigEndian.Uint32(b)
	if n == 0 {
		return nil, &core.DecodeError{Reason: "empty frame"}
	}
	if n > MaxPayloadSize {
		return nil, &core.DecodeError{Reason: fmt.Sprintf("declared length %d exceeds limit", n)}
	}
	end := uint64(core.FrameHeaderSize) + uint64(n)
	if end > uint64(len(b)) {
		return nil, &core.DecodeError{Reason: fmt.Sprintf("truncated frame: declared %d bytes, %d available", n, len(b)-core.FrameHeaderSize)}
	}
	return b[core.FrameHeaderSize:end], nil
}

// NextFrame returns the frame starting at off inside a data segment region.
// A zero length prefix, or fewer than four bytes left, marks the end of the
// written data (segments are preallocated and zero filled), reported as a nil
// frame with a nil error.
func NextFrame(region []byte, off int) ([]byte, error) {
	if off < 0 || off+core.FrameHeaderSize > len(region) {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(region[off:])
	if n == 0 {
		return nil, nil
	}
	end := uint64(off) + uint64(core.FrameHeaderSize) + uint64(n)
	if n > MaxPayloadSize || end > uint64(len(region)) {
		return nil, &core.DecodeError{Offset: int64(off), Reason: fmt.Sprintf("frame length %d overruns region of %d bytes", n, len(region))}
	}
	return region[off:end], nil
}

// New returns the codec registered under name, wrapped with payload
// compression unless ct is CompressionNone.
func New(name string, ct core.CompressionType) (core.Codec, error) {
	var c core.Codec
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		c = NewJSONCodec()
	case "proto", "protobuf":
		c = NewProtoCodec()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	if ct == core.CompressionNone {
		return c, nil
	}
	return NewCompressedCodec(c, ct)
}
