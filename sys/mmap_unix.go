//go:build unix

package sys

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MapFile maps the first size bytes of f. The mapping is shared so writes
// reach the page cache and become visible to other readers of the file.
func MapFile(f *os.File, size int, writable bool) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap %s: invalid size %d", f.Name(), size)
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	b, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return b, nil
}

// SyncMapping flushes dirty pages of the mapping to the file and waits.
func SyncMapping(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Msync(b, unix.MS_SYNC)
}

// UnmapFile releases a mapping returned by MapFile.
func UnmapFile(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}

// AdviseSequential hints that a read-only mapping will be scanned front to back.
func AdviseSequential(b []byte) {
	if len(b) > 0 {
		_ = unix.Madvise(b, unix.MADV_SEQUENTIAL)
	}
}
