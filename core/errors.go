package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by mutating calls made while the store is not running.
	ErrNotRunning = errors.New("log store is not running")
	// ErrSegmentFull signals that an append would exceed a segment's capacity.
	ErrSegmentFull = errors.New("segment is full")
	// ErrQueueClosed is returned when publishing to a closed ingestion queue.
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

// EncodeError is returned when a record cannot be encoded into a frame.
type EncodeError struct {
	RecordID string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode record %q: %v", e.RecordID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError is returned when a frame is truncated or its payload is malformed.
type DecodeError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IOError wraps a failure to create, map, append to or close a segment file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsEncodeError checks if an error is an EncodeError.
func IsEncodeError(err error) bool {
	var encodeError *EncodeError
	return errors.As(err, &encodeError)
}

// IsDecodeError checks if an error is a DecodeError.
func IsDecodeError(err error) bool {
	var decodeError *DecodeError
	return errors.As(err, &decodeError)
}

// IsIOError checks if an error is an IOError.
func IsIOError(err error) bool {
	var ioError *IOError
	return errors.As(err, &ioError)
}
