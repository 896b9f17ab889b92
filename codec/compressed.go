package codec

import (
	"fmt"
	"io"

	"github.com/INLOpen/nexuslog/compressors"
	"github.com/INLOpen/nexuslog/core"
)

// payloadDecoder is implemented by the codecs in this package so the
// compressing wrapper can skip re-framing the decompressed payload.
type payloadDecoder interface {
	decodePayload(payload []byte) (core.CallRecord, error)
}

// CompressedCodec compresses the payload of an inner codec. Its payload is
// [1 byte core.CompressionType][compressed inner payload].
type CompressedCodec struct {
	inner      core.Codec
	compressor core.Compressor
}

var _ core.Codec = (*CompressedCodec)(nil)

// NewCompressedCodec wraps inner with the compressor for ct.
func NewCompressedCodec(inner core.Codec, ct core.CompressionType) (*CompressedCodec, error) {
	comp, err := compressors.New(ct)
	if err != nil {
		return nil, err
	}
	return &CompressedCodec{inner: inner, compressor: comp}, nil
}

func (c *CompressedCodec) Name() string {
	return c.inner.Name() + "+" + c.compressor.Type().String()
}

func (c *CompressedCodec) FixedRecordSize() (int, bool) { return 0, false }

func (c *CompressedCodec) Encode(rec *core.CallRecord) ([]byte, error) {
	frame, err := c.inner.Encode(rec)
	if err != nil {
		return nil, err
	}
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	if err := c.compressor.CompressTo(buf, frame[core.FrameHeaderSize:]); err != nil {
		return nil, &core.EncodeError{RecordID: rec.ID, Err: err}
	}

	out := make([]byte, core.FrameHeaderSize, core.FrameHeaderSize+1+buf.Len())
	out = append(out, byte(c.compressor.Type()))
	out = append(out, buf.Bytes()...)
	return sealFrame(out), nil
}

func (c *CompressedCodec) Decode(frame []byte) (core.CallRecord, error) {
	payload, err := SplitFrame(frame)
	if err != nil {
		return core.CallRecord{}, err
	}
	if ct := core.CompressionType(payload[0]); ct != c.compressor.Type() {
		return core.CallRecord{}, &core.DecodeError{Reason: fmt.Sprintf("frame compressed with %s, codec expects %s", ct, c.compressor.Type())}
	}
	rc, err := c.compressor.Decompress(payload[1:])
	if err != nil {
		return core.CallRecord{}, &core.DecodeError{Reason: "decompress payload", Err: err}
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return core.CallRecord{}, &core.DecodeError{Reason: "read decompressed payload", Err: err}
	}
	if pd, ok := c.inner.(payloadDecoder); ok {
		return pd.decodePayload(raw)
	}
	return c.inner.Decode(appendFrame(make([]byte, 0, core.FrameHeaderSize+len(raw)), raw))
}
