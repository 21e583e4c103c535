package pages

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slices"
)

const wordSize = 8

// Space is the address space of a heap: every region mapped through it is registered in a page
// table so that raw addresses can be translated back to the memory that backs them. All
// reads and writes of heap bookkeeping go through Word and SetWord, so a stray address
// panics instead of scribbling over unrelated memory.
type Space struct {
	mapper    Mapper
	pageSize  int
	pageShift uint

	pages   *swiss.Map[uintptr, Region]
	regions *swiss.Map[uintptr, Region]
}

func NewSpace(mapper Mapper) (*Space, error) {
	pageSize := mapper.PageSize()
	err := CheckPageSize(pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "mapper reported an invalid page size")
	}

	var shift uint
	for 1<<shift < pageSize {
		shift++
	}

	return &Space{
		mapper:    mapper,
		pageSize:  pageSize,
		pageShift: shift,
		pages:     swiss.NewMap[uintptr, Region](64),
		regions:   swiss.NewMap[uintptr, Region](8),
	}, nil
}

func (s *Space) PageSize() int { return s.pageSize }

// Map maps at least size bytes and registers the resulting pages
func (s *Space) Map(size int) (Region, error) {
	region, err := s.mapper.Map(size)
	if err != nil {
		return Region{}, err
	}

	if region.Addr%uintptr(s.pageSize) != 0 || len(region.Data)%s.pageSize != 0 || len(region.Data) < size {
		err = errors.AssertionFailedf("mapper returned region %#x+%d for a %d byte request, which is not page-granular", region.Addr, len(region.Data), size)
		return Region{}, errors.CombineErrors(err, s.mapper.Unmap(region.Addr, len(region.Data)))
	}

	for page := region.Addr >> s.pageShift; page < region.End()>>s.pageShift; page++ {
		s.pages.Put(page, region)
	}
	s.regions.Put(region.Addr, region)

	return region, nil
}

// Unmap releases a region previously returned from Map. The pages are only forgotten once the
// mapper has released them.
func (s *Space) Unmap(addr uintptr, size int) error {
	region, ok := s.regions.Get(addr)
	if !ok {
		return errors.Wrapf(ErrUnknownRegion, "%#x is not the start of a region in this space", addr)
	}

	err := s.mapper.Unmap(addr, size)
	if err != nil {
		return err
	}

	for page := region.Addr >> s.pageShift; page < region.End()>>s.pageShift; page++ {
		s.pages.Delete(page)
	}
	s.regions.Delete(addr)

	return nil
}

// Contains reports whether addr lies in a mapped region
func (s *Space) Contains(addr uintptr) bool {
	return s.pages.Has(addr >> s.pageShift)
}

func (s *Space) translate(addr uintptr, size int) []byte {
	region, ok := s.pages.Get(addr >> s.pageShift)
	if !ok {
		panic(fmt.Sprintf("address %#x is not mapped", addr))
	}

	offset := int(addr - region.Addr)
	if offset+size > len(region.Data) {
		panic(fmt.Sprintf("%d bytes at %#x run past the end of region %#x+%d", size, addr, region.Addr, len(region.Data)))
	}

	return region.Data[offset : offset+size]
}

// Word reads the 64-bit word at addr, which must be 8-byte aligned and mapped
func (s *Space) Word(addr uintptr) uint64 {
	if addr%wordSize != 0 {
		panic(fmt.Sprintf("unaligned word read at %#x", addr))
	}
	return binary.LittleEndian.Uint64(s.translate(addr, wordSize))
}

// SetWord writes the 64-bit word at addr, which must be 8-byte aligned and mapped
func (s *Space) SetWord(addr uintptr, value uint64) {
	if addr%wordSize != 0 {
		panic(fmt.Sprintf("unaligned word write at %#x", addr))
	}
	binary.LittleEndian.PutUint64(s.translate(addr, wordSize), value)
}

// Bytes returns a view of size mapped bytes starting at addr. The view must not outlive the
// region it points into.
func (s *Space) Bytes(addr uintptr, size int) []byte {
	if size == 0 {
		return nil
	}
	return s.translate(addr, size)
}

// Regions returns every live region, ordered by address
func (s *Space) Regions() []Region {
	regions := make([]Region, 0, s.regions.Count())
	s.regions.Iter(func(_ uintptr, region Region) bool {
		regions = append(regions, region)
		return false
	})

	slices.SortFunc(regions, func(a, b Region) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		default:
			return 0
		}
	})

	return regions
}

// MappedBytes is the total size of every live region
func (s *Space) MappedBytes() int {
	total := 0
	s.regions.Iter(func(_ uintptr, region Region) bool {
		total += region.Size()
		return false
	})
	return total
}
