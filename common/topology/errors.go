package topology

import "errors"

var (
	ErrInvalidFactor    = errors.New("invalid topology factor")
	ErrPortRangeOverlap = errors.New("port ranges of different roles overlap")
	ErrPortOutOfRange   = errors.New("port out of range")
	ErrDuplicateAddress = errors.New("duplicate node address")
)
