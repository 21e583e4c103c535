package pages

import "github.com/cockroachdb/errors"

// ErrExhausted is returned from Map when the mapper cannot provide any more pages
var ErrExhausted = errors.New("page mapper exhausted")

// ErrUnknownRegion is returned from Unmap when the address and size do not match a live mapping
var ErrUnknownRegion = errors.New("no mapped region at address")
