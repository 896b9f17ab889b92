package core

import (
	"encoding/binary"
	"time"
)

// CallRecord is one observed call. Times are unix milliseconds so that a
// record survives an encode/decode round trip unchanged.
type CallRecord struct {
	ID             string `json:"id"`
	Hostname       string `json:"hostname"`
	RequestTime    int64  `json:"requestTime"`
	Path           string `json:"path"`
	Method         string `json:"method"`
	RequestParams  string `json:"requestParams,omitempty"`
	RequestHeaders string `json:"requestHeaders,omitempty"`
	ClientIP       string `json:"clientIp,omitempty"`
	StatusCode     int    `json:"statusCode"`
	ResponseBody   string `json:"responseBody,omitempty"`
	ExceptionMsg   string `json:"exceptionMsg,omitempty"`
	ExecutionTime  int64  `json:"executionTime"`
}

// Time returns RequestTime as a time.Time.
func (r *CallRecord) Time() time.Time {
	return time.UnixMilli(r.RequestTime)
}

// Duration returns ExecutionTime as a time.Duration.
func (r *CallRecord) Duration() time.Duration {
	return time.Duration(r.ExecutionTime) * time.Millisecond
}

// IndexEntry points at one frame inside a data segment.
type IndexEntry struct {
	Offset uint64
	Length uint32
}

// MarshalTo writes the entry into dst, which must hold IndexEntrySize bytes.
func (e IndexEntry) MarshalTo(dst []byte) {
	binary.BigEndian.PutUint64(dst[0:8], e.Offset)
	binary.BigEndian.PutUint32(dst[8:12], e.Length)
}

// Bytes returns the 12-byte on-disk form of the entry.
func (e IndexEntry) Bytes() []byte {
	b := make([]byte, IndexEntrySize)
	e.MarshalTo(b)
	return b
}

// DecodeIndexEntry reads an entry from the first IndexEntrySize bytes of b.
func DecodeIndexEntry(b []byte) (IndexEntry, error) {
	if len(b) < IndexEntrySize {
		return IndexEntry{}, &DecodeError{Reason: "short index entry"}
	}
	return IndexEntry{
		Offset: binary.BigEndian.Uint64(b[0:8]),
		Length: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// Codec turns a record into a length-prefixed frame and back.
type Codec interface {
	// Encode returns the full frame: [u32 length][payload].
	Encode(rec *CallRecord) ([]byte, error)
	// Decode reads the length prefix then exactly that many payload bytes.
	Decode(frame []byte) (CallRecord, error)
	// FixedRecordSize reports the frame size when every record has the same size.
	FixedRecordSize() (int, bool)
	Name() string
}
