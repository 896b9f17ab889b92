package codec

import (
	"github.com/INLOpen/nexuslog/core"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the protobuf form. It reads as
//
//	message CallRecord {
//	  bytes  id              = 1;
//	  bytes  hostname        = 2;
//	  sint64 request_time    = 3;
//	  bytes  path            = 4;
//	  bytes  method          = 5;
//	  bytes  request_params  = 6;
//	  bytes  request_headers = 7;
//	  bytes  client_ip       = 8;
//	  sint64 status_code     = 9;
//	  bytes  response_body   = 10;
//	  bytes  exception_msg   = 11;
//	  sint64 execution_time  = 12;
//	}
//
// Text is carried as bytes so bodies that are not valid UTF-8 survive.
const (
	fieldID protowire.Number = iota + 1
	fieldHostname
	fieldRequestTime
	fieldPath
	fieldMethod
	fieldRequestParams
	fieldRequestHeaders
	fieldClientIP
	fieldStatusCode
	fieldResponseBody
	fieldExceptionMsg
	fieldExecutionTime
)

// ProtoCodec stores records in protobuf wire format. Empty text fields and
// zero integers are omitted, as proto3 does.
type ProtoCodec struct{}

var _ core.Codec = (*ProtoCodec)(nil)

func NewProtoCodec() *ProtoCodec {
	return &ProtoCodec{}
}

func (c *ProtoCodec) Name() string { return "proto" }

func (c *ProtoCodec) FixedRecordSize() (int, bool) { return 0, false }

func (c *ProtoCodec) Encode(rec *core.CallRecord) ([]byte, error) {
	if rec == nil {
		return nil, &core.EncodeError{Err: errNilRecord}
	}

	buf := make([]byte, core.FrameHeaderSize, core.FrameHeaderSize+64+len(rec.RequestParams)+len(rec.ResponseBody))
	buf = appendBytesField(buf, fieldID, rec.ID)
	buf = appendBytesField(buf, fieldHostname, rec.Hostname)
	buf = appendSintField(buf, fieldRequestTime, rec.RequestTime)
	buf = appendBytesField(buf, fieldPath, rec.Path)
	buf = appendBytesField(buf, fieldMethod, rec.Method)
	buf = appendBytesField(buf, fieldRequestParams, rec.RequestParams)
	buf = appendBytesField(buf, fieldRequestHeaders, rec.RequestHeaders)
	buf = appendBytesField(buf, fieldClientIP, rec.ClientIP)
	buf = appendSintField(buf, fieldStatusCode, int64(rec.StatusCode))
	buf = appendBytesField(buf, fieldResponseBody, rec.ResponseBody)
	buf = appendBytesField(buf, fieldExceptionMsg, rec.ExceptionMsg)
	buf = appendSintField(buf, fieldExecutionTime, rec.ExecutionTime)

	if len(buf)-core.FrameHeaderSize > MaxPayloadSize {
		return nil, &core.EncodeError{RecordID: rec.ID, Err: errTooLarge}
	}
	return sealFrame(buf), nil
}

func appendBytesField(dst []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return dst
	}
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendString(dst, s)
}

func appendSintField(dst []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return dst
	}
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, protowire.EncodeZigZag(v))
}

func (c *ProtoCodec) Decode(frame []byte) (core.CallRecord, error) {
	payload, err := SplitFrame(frame)
	if err != nil {
		return core.CallRecord{}, err
	}
	return c.decodePayload(payload)
}

// decodePayload skips unknown fields so newer writers stay readable.
func (c *ProtoCodec) decodePayload(b []byte) (core.CallRecord, error) {
	var rec core.CallRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return core.CallRecord{}, protoDecodeError(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && isTextField(num):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return core.CallRecord{}, protoDecodeError(protowire.ParseError(n))
			}
			setText(&rec, num, string(v))
			b = b[n:]
		case typ == protowire.VarintType && isIntField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return core.CallRecord{}, protoDecodeError(protowire.ParseError(n))
			}
			setInt(&rec, num, protowire.DecodeZigZag(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return core.CallRecord{}, protoDecodeError(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}

func protoDecodeError(err error) error {
	return &core.DecodeError{Reason: "invalid protobuf payload", Err: err}
}

func isIntField(num protowire.Number) bool {
	return num == fieldRequestTime || num == fieldStatusCode || num == fieldExecutionTime
}

func isTextField(num protowire.Number) bool {
	return num >= fieldID && num <= fieldExecutionTime && !isIntField(num)
}

func setInt(rec *core.CallRecord, num protowire.Number, v int64) {
	switch num {
	case fieldRequestTime:
		rec.RequestTime = v
	case fieldStatusCode:
		rec.StatusCode = int(v)
	case fieldExecutionTime:
		rec.ExecutionTime = v
	}
}

func setText(rec *core.CallRecord, num protowire.Number, v string) {
	switch num {
	case fieldID:
		rec.ID = v
	case fieldHostname:
		rec.Hostname = v
	case fieldPath:
		rec.Path = v
	case fieldMethod:
		rec.Method = v
	case fieldRequestParams:
		rec.RequestParams = v
	case fieldRequestHeaders:
		rec.RequestHeaders = v
	case fieldClientIP:
		rec.ClientIP = v
	case fieldResponseBody:
		rec.ResponseBody = v
	case fieldExceptionMsg:
		rec.ExceptionMsg = v
	}
}
