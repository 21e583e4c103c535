//go:build unix

package pages

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/sys/unix"
)

// SystemMapper maps anonymous private pages from the operating system
type SystemMapper struct {
	pageSize int
	regions  *swiss.Map[uintptr, []byte]
}

var _ Mapper = &SystemMapper{}

func NewSystemMapper() *SystemMapper {
	return &SystemMapper{
		pageSize: unix.Getpagesize(),
		regions:  swiss.NewMap[uintptr, []byte](8),
	}
}

func (m *SystemMapper) PageSize() int { return m.pageSize }

func (m *SystemMapper) Map(size int) (Region, error) {
	err := checkMapSize(size)
	if err != nil {
		return Region{}, err
	}

	size = AlignToPage(size, m.pageSize)
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return Region{}, errors.Wrapf(ErrExhausted, "mmap of %d bytes: %v", size, err)
		}
		return Region{}, errors.Wrapf(err, "mmap of %d bytes", size)
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	m.regions.Put(addr, data)

	return Region{Addr: addr, Data: data}, nil
}

func (m *SystemMapper) Unmap(addr uintptr, size int) error {
	data, ok := m.regions.Get(addr)
	if !ok {
		return errors.Wrapf(ErrUnknownRegion, "%#x", addr)
	}

	if AlignToPage(size, m.pageSize) != len(data) {
		return errors.Wrapf(ErrUnknownRegion, "%#x was mapped with %d bytes, not %d", addr, len(data), size)
	}

	err := unix.Munmap(data)
	if err != nil {
		return errors.Wrapf(err, "munmap of %d bytes at %#x", size, addr)
	}

	m.regions.Delete(addr)
	return nil
}
