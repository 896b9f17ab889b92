package segment

import (
	"errors"
	"fmt"
	"os"

	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/sys"
)

// SafetyMargin is the reserve kept free at the end of every segment. A
// segment whose remaining capacity drops below it reports IsFull.
const SafetyMargin = 1024

// File is an append-only, memory mapped region of fixed capacity.
//
// File does no locking. Append and Close must be serialized by the owner;
// the store guarantees this by letting only the batch writer touch segments.
type File struct {
	path     string
	file     *os.File
	data     []byte
	capacity int64
	pos      int64
	closed   bool
}

// OpenFile creates or opens the file at path, sizes it to capacity and maps
// it read/write. An existing file is mapped as-is and appended to from offset
// zero; callers pick fresh names to avoid that.
func OpenFile(path string, capacity int64, preallocate bool) (*File, error) {
	if capacity <= 0 {
		return nil, &core.IOError{Op: "open segment", Path: path, Err: fmt.Errorf("invalid capacity %d", capacity)}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, &core.IOError{Op: "open segment", Path: path, Err: err}
	}
	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, &core.IOError{Op: "size segment", Path: path, Err: err}
	}
	if preallocate {
		if err := sys.Preallocate(f, capacity); err != nil && !errors.Is(err, sys.ErrPreallocNotSupported) {
			f.Close()
			return nil, &core.IOError{Op: "preallocate segment", Path: path, Err: err}
		}
	}
	data, err := sys.MapFile(f, int(capacity), true)
	if err != nil {
		f.Close()
		return nil, &core.IOError{Op: "map segment", Path: path, Err: err}
	}
	return &File{path: path, file: f, data: data, capacity: capacity}, nil
}

// Append copies b into the segment and returns the offset it starts at.
// Nothing is written when b does not fit.
func (s *File) Append(b []byte) (int64, error) {
	if s.closed {
		return 0, &core.IOError{Op: "append", Path: s.path, Err: os.ErrClosed}
	}
	if s.pos+int64(len(b)) > s.capacity {
		return 0, core.ErrSegmentFull
	}
	off := s.pos
	copy(s.data[off:], b)
	s.pos += int64(len(b))
	return off, nil
}

// IsFull reports whether less than SafetyMargin bytes remain.
// Segments no larger than the margin are always full.
func (s *File) IsFull() bool {
	return s.pos > s.capacity-SafetyMargin
}

// Fits reports whether n more bytes can be appended.
func (s *File) Fits(n int) bool {
	return !s.closed && s.pos+int64(n) <= s.capacity
}

func (s *File) WritePosition() int64 { return s.pos }

func (s *File) Capacity() int64 { return s.capacity }

func (s *File) Path() string { return s.path }

// Sync forces written pages to disk without releasing the mapping.
func (s *File) Sync() error {
	if s.closed {
		return nil
	}
	if err := sys.SyncMapping(s.data[:s.pos]); err != nil {
		return &core.IOError{Op: "sync segment", Path: s.path, Err: err}
	}
	return nil
}

// Close syncs the mapping, unmaps it and closes the file. Every step runs
// even if an earlier one fails; the first error is returned. Calling Close
// again is a no-op.
func (s *File) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := sys.SyncMapping(s.data); err != nil {
		errs = append(errs, fmt.Errorf("msync: %w", err))
	}
	if err := sys.UnmapFile(s.data); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	s.data = nil
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("fsync: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	s.file = nil
	if len(errs) > 0 {
		return &core.IOError{Op: "close segment", Path: s.path, Err: errors.Join(errs...)}
	}
	return nil
}
