package codec

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/INLOpen/nexuslog/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() core.CallRecord {
	return core.CallRecord{
		ID:             "3f0c1f3e-8a47-4d4c-9a51-9f1c1b1e2a10",
		Hostname:       "web-1",
		RequestTime:    1700000000123,
		Path:           "/api/orders/42",
		Method:         "POST",
		RequestParams:  `{"qty":"3","note":"line1\nline2 \"quoted\""}`,
		RequestHeaders: `{"Content-Type":"application/json"}`,
		ClientIP:       "10.0.0.7",
		StatusCode:     500,
		ResponseBody:   "internal error",
		ExceptionMsg:   "sql: connection refused",
		ExecutionTime:  87,
	}
}

func allCodecs(t *testing.T) map[string]core.Codec {
	t.Helper()
	out := map[string]core.Codec{}
	for _, name := range []string{"json", "proto"} {
		for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
			c, err := New(name, ct)
			require.NoError(t, err)
			out[c.Name()] = c
		}
	}
	return out
}

func TestCodecs_RoundTrip(t *testing.T) {
	records := map[string]core.CallRecord{
		"full":    sampleRecord(),
		"minimal": {ID: "a", RequestTime: 1, Path: "/", Method: "GET", StatusCode: 200},
		"unicode": {ID: "b", Path: "/api/ค้นหา", Method: "GET", ResponseBody: "日本語 ✓", StatusCode: 200},
		"control": {ID: "c", Path: "/api/raw", Method: "PUT", RequestParams: "k=\x1b[0m\x7f", ResponseBody: "a\x00b\x01\u2028\\x00", StatusCode: 200},
		"binary":  {ID: "d\xff", Path: "/api/upload", Method: "POST", RequestParams: "\x89PNG\r\n\x1a\n\xfe\xfd", ResponseBody: "\xc3\x28", StatusCode: 201},
		"bigint":  {ID: "e", RequestTime: 1<<62 + 1, Path: "/", Method: "GET", StatusCode: -1, ExecutionTime: -(1<<53 + 1)},
	}
	for name, c := range allCodecs(t) {
		for rname, rec := range records {
			t.Run(name+"/"+rname, func(t *testing.T) {
				frame, err := c.Encode(&rec)
				require.NoError(t, err)
				require.Equal(t, uint32(len(frame)-core.FrameHeaderSize), binary.BigEndian.Uint32(frame))

				got, err := c.Decode(frame)
				require.NoError(t, err)
				assert.Equal(t, rec, got)

				size, fixed := c.FixedRecordSize()
				assert.False(t, fixed)
				assert.Zero(t, size)
			})
		}
	}
}

func TestCodecs_TruncatedFrame(t *testing.T) {
	rec := sampleRecord()
	for name, c := range allCodecs(t) {
		t.Run(name, func(t *testing.T) {
			frame, err := c.Encode(&rec)
			require.NoError(t, err)

			for _, cut := range []int{0, 2, core.FrameHeaderSize, len(frame) / 2, len(frame) - 1} {
				_, err := c.Decode(frame[:cut])
				require.Error(t, err, "cut at %d", cut)
				assert.True(t, core.IsDecodeError(err), "cut at %d: %v", cut, err)
			}
		})
	}
}

func TestJSONCodec_MalformedPayload(t *testing.T) {
	c := NewJSONCodec()
	_, err := c.Decode(appendFrame(nil, []byte(`{"id":`)))
	require.Error(t, err)
	assert.True(t, core.IsDecodeError(err))

	_, err = c.Decode(appendFrame(nil, []byte(`[1,2,3]`)))
	require.Error(t, err)
	assert.True(t, core.IsDecodeError(err))
}

func TestProtoCodec_MalformedPayload(t *testing.T) {
	c := NewProtoCodec()
	for name, payload := range map[string][]byte{
		"truncated varint": {0x18, 0xff},
		"short bytes":      {0x0a, 0x05, 'a', 'b'},
		"bad tag":          {0x00},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(sealFrame(append(make([]byte, core.FrameHeaderSize), payload...)))
			require.Error(t, err)
			assert.True(t, core.IsDecodeError(err), err)
		})
	}
}

func TestProtoCodec_SkipsUnknownFields(t *testing.T) {
	rec := sampleRecord()
	frame, err := NewProtoCodec().Encode(&rec)
	require.NoError(t, err)

	// field 99, varint 7; field 100, bytes "x"
	extra := []byte{0x98, 0x06, 0x07, 0xa2, 0x06, 0x01, 'x'}
	payload := append(append([]byte{}, frame[core.FrameHeaderSize:]...), extra...)
	got, err := NewProtoCodec().Decode(sealFrame(append(make([]byte, core.FrameHeaderSize), payload...)))
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestJSONCodec_EscapesControlCharacters(t *testing.T) {
	rec := core.CallRecord{ID: "a", ResponseBody: "x\x00y\x1f\"z\\"}
	frame, err := NewJSONCodec().Encode(&rec)
	require.NoError(t, err)
	assert.Contains(t, string(frame[core.FrameHeaderSize:]), `"responseBody":"x\u0000y\u001f\"z\\"`)
}

func TestJSONCodec_NilRecord(t *testing.T) {
	_, err := NewJSONCodec().Encode(nil)
	require.Error(t, err)
	assert.True(t, core.IsEncodeError(err))
}

func TestCompressedCodec_RejectsOtherCompression(t *testing.T) {
	rec := sampleRecord()
	snappyCodec, err := New("json", core.CompressionSnappy)
	require.NoError(t, err)
	lz4Codec, err := New("json", core.CompressionLZ4)
	require.NoError(t, err)

	frame, err := snappyCodec.Encode(&rec)
	require.NoError(t, err)
	_, err = lz4Codec.Decode(frame)
	require.Error(t, err)
	assert.True(t, core.IsDecodeError(err))
}

func TestNextFrame(t *testing.T) {
	c := NewJSONCodec()
	a, b := sampleRecord(), sampleRecord()
	b.ID = "second"
	fa, err := c.Encode(&a)
	require.NoError(t, err)
	fb, err := c.Encode(&b)
	require.NoError(t, err)

	region := make([]byte, 4096)
	copy(region, fa)
	copy(region[len(fa):], fb)

	f, err := NextFrame(region, 0)
	require.NoError(t, err)
	assert.Equal(t, fa, f)

	f, err = NextFrame(region, len(fa))
	require.NoError(t, err)
	assert.Equal(t, fb, f)

	f, err = NextFrame(region, len(fa)+len(fb))
	require.NoError(t, err)
	assert.Nil(t, f, "zero padding marks end of data")

	f, err = NextFrame(region, len(region)-2)
	require.NoError(t, err)
	assert.Nil(t, f)

	corrupt := make([]byte, 16)
	binary.BigEndian.PutUint32(corrupt, 1000)
	_, err = NextFrame(corrupt, 0)
	require.Error(t, err)
	assert.True(t, core.IsDecodeError(err))
}

func TestNew_UnknownCodec(t *testing.T) {
	_, err := New("xml", core.CompressionNone)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "xml"))
}
