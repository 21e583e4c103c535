package heap

import "github.com/cockroachdb/errors"

// ErrNotInitialized is returned from Allocate when Initialize has not been called
var ErrNotInitialized = errors.New("allocator has not been initialized")

// ErrInvalidSize is returned from Allocate when the requested size is negative or too large
// to ever be satisfied
var ErrInvalidSize = errors.New("invalid allocation size")
