//go:build !unix

package sys

import "os"

func MapFile(f *os.File, size int, writable bool) ([]byte, error) {
	return nil, ErrMmapNotSupported
}

func SyncMapping(b []byte) error { return ErrMmapNotSupported }

func UnmapFile(b []byte) error { return ErrMmapNotSupported }

func AdviseSequential(b []byte) {}
