package codec

import "errors"

var (
	errNilRecord = errors.New("nil record")
	errTooLarge  = errors.New("encoded record exceeds maximum payload size")
)
