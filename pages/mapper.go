package pages

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageheap/memutils"
)

//go:generate mockgen -source mapper.go -destination ./mocks/mapper.go -package mocks

const (
	// MinPageSize is the smallest page size a Mapper may report
	MinPageSize = 64
	// MaxMapSize is the largest request any Mapper accepts. Anything larger fails with ErrExhausted.
	MaxMapSize = math.MaxInt >> 1
)

// Region is a span of mapped, readable and writable memory. Addr is page-aligned and
// Data covers exactly the mapped bytes.
type Region struct {
	Addr uintptr
	Data []byte
}

func (r Region) Size() int { return len(r.Data) }

// End is the first address past the region
func (r Region) End() uintptr { return r.Addr + uintptr(len(r.Data)) }

// Mapper reserves and releases whole pages of address space. Sizes passed to Map are rounded up
// to a whole number of pages; Unmap must be passed an address and size previously returned from Map.
type Mapper interface {
	PageSize() int
	Map(size int) (Region, error)
	Unmap(addr uintptr, size int) error
}

// CheckPageSize returns an error if pageSize cannot be used as the granularity of a Mapper
func CheckPageSize(pageSize int) error {
	err := memutils.CheckPow2(pageSize, "page size")
	if err != nil {
		return err
	}

	if pageSize < MinPageSize {
		return errors.Newf("page size %d is smaller than the minimum of %d", pageSize, MinPageSize)
	}

	return nil
}

// AlignToPage rounds size up to a whole number of pages
func AlignToPage(size int, pageSize int) int {
	return memutils.AlignUp(size, uint(pageSize))
}

func checkMapSize(size int) error {
	if size <= 0 {
		return errors.Newf("cannot map %d bytes", size)
	}
	if size > MaxMapSize {
		return errors.Wrapf(ErrExhausted, "cannot map %d bytes, the largest mapping is %d", size, MaxMapSize)
	}
	return nil
}
