package sys

import "errors"

// ErrPreallocNotSupported is returned when the underlying file or filesystem
// does not support preallocation. Callers treat it as informational.
var ErrPreallocNotSupported = errors.New("preallocation not supported")

// ErrMmapNotSupported is returned on platforms without a memory mapping implementation.
var ErrMmapNotSupported = errors.New("memory mapped files are not supported on this platform")
