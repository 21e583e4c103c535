package pages

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

const (
	// DefaultArenaPageSize is used by ArenaMapper when no page size is provided
	DefaultArenaPageSize = 4096

	// MaxArenaMapping is the largest single region an ArenaMapper will allocate
	MaxArenaMapping = math.MaxInt32

	arenaBaseAddress uintptr = 0x100000
	arenaGuardPages          = 1
)

// ArenaOptions configure an ArenaMapper. The zero value is valid.
type ArenaOptions struct {
	// PageSize is the granularity of the mapper. It must be a power of two no smaller than MinPageSize.
	// If 0, DefaultArenaPageSize is used.
	PageSize int
	// Limit is the maximum number of bytes that may be mapped at once. If 0, there is no limit.
	Limit int
}

// ArenaMapper is a Mapper backed by the Go heap. Each mapping is given a synthetic, page-aligned
// address that is never handed out again, separated from its neighbors by an unmapped guard page.
// ArenaMapper counts its calls, which makes it convenient for measuring page usage.
type ArenaMapper struct {
	pageSize int
	limit    int
	next     uintptr

	regions *swiss.Map[uintptr, []byte]

	outstanding int
	peak        int
	mapCalls    int
	unmapCalls  int
}

var _ Mapper = &ArenaMapper{}

func NewArenaMapper(options ArenaOptions) (*ArenaMapper, error) {
	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = DefaultArenaPageSize
	}

	err := CheckPageSize(pageSize)
	if err != nil {
		return nil, err
	}

	if options.Limit < 0 {
		return nil, errors.Newf("arena limit %d is negative", options.Limit)
	}

	base := uintptr(AlignToPage(int(arenaBaseAddress), pageSize))
	return &ArenaMapper{
		pageSize: pageSize,
		limit:    options.Limit,
		next:     base,
		regions:  swiss.NewMap[uintptr, []byte](8),
	}, nil
}

func (m *ArenaMapper) PageSize() int { return m.pageSize }

func (m *ArenaMapper) Map(size int) (Region, error) {
	err := checkMapSize(size)
	if err != nil {
		return Region{}, err
	}

	if size > MaxArenaMapping-m.pageSize {
		return Region{}, errors.Wrapf(ErrExhausted, "cannot map %d bytes from the Go heap, the largest arena region is %d", size, MaxArenaMapping)
	}

	size = AlignToPage(size, m.pageSize)
	if m.limit > 0 && m.outstanding+size > m.limit {
		return Region{}, errors.Wrapf(ErrExhausted, "mapping %d bytes would exceed the arena limit of %d (%d mapped)", size, m.limit, m.outstanding)
	}

	addr := m.next
	data := make([]byte, size)
	m.next += uintptr(size + arenaGuardPages*m.pageSize)

	m.regions.Put(addr, data)
	m.outstanding += size
	if m.outstanding > m.peak {
		m.peak = m.outstanding
	}
	m.mapCalls++

	return Region{Addr: addr, Data: data}, nil
}

func (m *ArenaMapper) Unmap(addr uintptr, size int) error {
	data, ok := m.regions.Get(addr)
	if !ok {
		return errors.Wrapf(ErrUnknownRegion, "%#x", addr)
	}

	if AlignToPage(size, m.pageSize) != len(data) {
		return errors.Wrapf(ErrUnknownRegion, "%#x was mapped with %d bytes, not %d", addr, len(data), size)
	}

	m.regions.Delete(addr)
	m.outstanding -= len(data)
	m.unmapCalls++

	return nil
}

// Outstanding is the number of regions currently mapped
func (m *ArenaMapper) Outstanding() int { return m.regions.Count() }

// MappedBytes is the number of bytes currently mapped
func (m *ArenaMapper) MappedBytes() int { return m.outstanding }

// PeakMappedBytes is the largest value MappedBytes has reached
func (m *ArenaMapper) PeakMappedBytes() int { return m.peak }

func (m *ArenaMapper) MapCalls() int { return m.mapCalls }

func (m *ArenaMapper) UnmapCalls() int { return m.unmapCalls }
