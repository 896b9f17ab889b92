//go:build !linux

package sys

import "os"

// Preallocate is not implemented outside Linux. The segment file is still
// sized with Truncate, which is enough for correctness.
func Preallocate(f *os.File, size int64) error {
	preallocUnsupported.Add(1)
	return ErrPreallocNotSupported
}
