package codec

import (
	"strconv"

	"github.com/INLOpen/nexuslog/core"
	"github.com/valyala/fastjson"
)

// JSONCodec stores records as compact JSON objects.
// Empty optional text fields are omitted.
type JSONCodec struct {
	parsers fastjson.ParserPool
}

var _ core.Codec = (*JSONCodec)(nil)

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (c *JSONCodec) Name() string { return "json" }

func (c *JSONCodec) FixedRecordSize() (int, bool) { return 0, false }

// Encode renders rec as JSON behind a length prefix. Bytes that are not
// valid UTF-8 are written through unchanged, so Decode returns them as-is.
func (c *JSONCodec) Encode(rec *core.CallRecord) ([]byte, error) {
	if rec == nil {
		return nil, &core.EncodeError{Err: errNilRecord}
	}

	buf := make([]byte, core.FrameHeaderSize, core.FrameHeaderSize+256+len(rec.RequestParams)+len(rec.ResponseBody))
	buf = append(buf, '{')
	buf = appendStringField(buf, "id", rec.ID, false)
	buf = appendStringField(buf, "hostname", rec.Hostname, true)
	buf = appendIntField(buf, "requestTime", rec.RequestTime)
	buf = appendStringField(buf, "path", rec.Path, true)
	buf = appendStringField(buf, "method", rec.Method, true)
	buf = appendOptional(buf, "requestParams", rec.RequestParams)
	buf = appendOptional(buf, "requestHeaders", rec.RequestHeaders)
	buf = appendOptional(buf, "clientIp", rec.ClientIP)
	buf = appendIntField(buf, "statusCode", int64(rec.StatusCode))
	buf = appendOptional(buf, "responseBody", rec.ResponseBody)
	buf = appendOptional(buf, "exceptionMsg", rec.ExceptionMsg)
	buf = appendIntField(buf, "executionTime", rec.ExecutionTime)
	buf = append(buf, '}')

	if len(buf)-core.FrameHeaderSize > MaxPayloadSize {
		return nil, &core.EncodeError{RecordID: rec.ID, Err: errTooLarge}
	}
	return sealFrame(buf), nil
}

func appendStringField(dst []byte, key, val string, comma bool) []byte {
	if comma {
		dst = append(dst, ',')
	}
	dst = append(dst, '"')
	dst = append(dst, key...)
	dst = append(dst, '"', ':')
	return appendJSONString(dst, val)
}

func appendOptional(dst []byte, key, val string) []byte {
	if val == "" {
		return dst
	}
	return appendStringField(dst, key, val, true)
}

func appendIntField(dst []byte, key string, v int64) []byte {
	dst = append(dst, ',', '"')
	dst = append(dst, key...)
	dst = append(dst, '"', ':')
	return strconv.AppendInt(dst, v, 10)
}

const hexDigits = "0123456789abcdef"

// appendJSONString quotes s as a JSON string. Control characters become
// \u00XX escapes; every other byte is copied verbatim.
func appendJSONString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b != '"' && b != '\\' {
			continue
		}
		dst = append(dst, s[start:i]...)
		switch b {
		case '"', '\\':
			dst = append(dst, '\\', b)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[b>>4], hexDigits[b&0xf])
		}
		start = i + 1
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

// Decode parses a frame produced by Encode.
func (c *JSONCodec) Decode(frame []byte) (core.CallRecord, error) {
	payload, err := SplitFrame(frame)
	if err != nil {
		return core.CallRecord{}, err
	}
	return c.decodePayload(payload)
}

func (c *JSONCodec) decodePayload(payload []byte) (core.CallRecord, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(payload)
	if err != nil {
		return core.CallRecord{}, &core.DecodeError{Reason: "invalid json payload", Err: err}
	}
	if v.Type() != fastjson.TypeObject {
		return core.CallRecord{}, &core.DecodeError{Reason: "json payload is not an object"}
	}
	return RecordFromJSON(v), nil
}

// RecordFromJSON reads the record fields out of a parsed JSON object. Missing
// fields stay zero. It is shared with the ingest endpoint.
func RecordFromJSON(v *fastjson.Value) core.CallRecord {
	return core.CallRecord{
		ID:             string(v.GetStringBytes("id")),
		Hostname:       string(v.GetStringBytes("hostname")),
		RequestTime:    v.GetInt64("requestTime"),
		Path:           string(v.GetStringBytes("path")),
		Method:         string(v.GetStringBytes("method")),
		RequestParams:  string(v.GetStringBytes("requestParams")),
		RequestHeaders: string(v.GetStringBytes("requestHeaders")),
		ClientIP:       string(v.GetStringBytes("clientIp")),
		StatusCode:     v.GetInt("statusCode"),
		ResponseBody:   string(v.GetStringBytes("responseBody")),
		ExceptionMsg:   string(v.GetStringBytes("exceptionMsg")),
		ExecutionTime:  v.GetInt64("executionTime"),
	}
}
