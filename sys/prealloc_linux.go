//go:build linux

package sys

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Preallocate reserves disk blocks for the first size bytes of f with
// fallocate, so that later page faults on the mapping do not hit ENOSPC.
// Filesystems without fallocate support yield ErrPreallocNotSupported.
func Preallocate(f *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	// WSL mounts of Windows drives reject fallocate.
	if strings.HasPrefix(f.Name(), "/mnt/") {
		preallocUnsupported.Add(1)
		return ErrPreallocNotSupported
	}
	fd := int(f.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
		if allow, ok := preallocCacheLoad(dev); ok {
			preallocCacheHits.Add(1)
			if !allow {
				preallocUnsupported.Add(1)
				return ErrPreallocNotSupported
			}
			return fallocate(fd, dev, size)
		}
		preallocCacheMisses.Add(1)
	}

	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil {
		preallocUnsupported.Add(1)
		return ErrPreallocNotSupported
	}
	switch st.Type {
	case 0xEF53, // EXT2/3/4
		0x58465342, // XFS
		0x9123683E, // BTRFS
		0x01021994, // TMPFS
		0x794C7630, // OVERLAYFS
		0xF2F52010, // F2FS
		0x2FC12FC1: // ZFS
	default:
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		preallocUnsupported.Add(1)
		return ErrPreallocNotSupported
	}
	return fallocate(fd, dev, size)
}

func fallocate(fd int, dev uint64, size int64) error {
	err := unix.Fallocate(fd, 0, 0, size)
	if err == nil {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		preallocSuccesses.Add(1)
		return nil
	}
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTTY) {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		preallocUnsupported.Add(1)
		return ErrPreallocNotSupported
	}
	preallocFailures.Add(1)
	return fmt.Errorf("preallocation failed for fd=%d: %w", fd, err)
}
