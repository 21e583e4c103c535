package metadata

import (
	"github.com/pkg/errors"
)

// FreeList threads every free block of a heap through the first two words of the block's
// payload. Nodes are payload addresses.
type FreeList struct {
	List
}

// FindFirstFit returns the first block, in list order, of at least size bytes, or 0
func (l *FreeList) FindFirstFit(size int) uintptr {
	for cur := l.head; cur != 0; cur = l.Next(cur) {
		if ReadTag(l.mem, cur).Size() >= size {
			return cur
		}
	}
	return 0
}

// FindBestFit returns the smallest block of at least size bytes, or 0. The search stops
// early on an exact fit.
func (l *FreeList) FindBestFit(size int) uintptr {
	var best uintptr
	bestSize := 0

	for cur := l.head; cur != 0; cur = l.Next(cur) {
		blockSize := ReadTag(l.mem, cur).Size()
		if blockSize < size {
			continue
		}
		if blockSize == size {
			return cur
		}
		if best == 0 || blockSize < bestSize {
			best = cur
			bestSize = blockSize
		}
	}

	return best
}

// FindLowestFit returns the block of at least size bytes with the lowest address, or 0
func (l *FreeList) FindLowestFit(size int) uintptr {
	var best uintptr

	for cur := l.head; cur != 0; cur = l.Next(cur) {
		if ReadTag(l.mem, cur).Size() < size {
			continue
		}
		if best == 0 || cur < best {
			best = cur
		}
	}

	return best
}

// FindFit searches the list for a block of at least size bytes using the provided strategy.
// 0 means no block is large enough.
func (l *FreeList) FindFit(size int, strategy AllocationStrategy) uintptr {
	switch strategy {
	case AllocationStrategyMinMemory:
		return l.FindBestFit(size)
	case AllocationStrategyMinOffset:
		return l.FindLowestFit(size)
	default:
		return l.FindFirstFit(size)
	}
}

// SumFreeSize totals the size of every block in the list, tags included
func (l *FreeList) SumFreeSize() int {
	total := 0
	for cur := l.head; cur != 0; cur = l.Next(cur) {
		total += ReadTag(l.mem, cur).Size()
	}
	return total
}

func (l *FreeList) Validate() error {
	err := l.List.Validate()
	if err != nil {
		return err
	}

	for cur := l.head; cur != 0; cur = l.Next(cur) {
		if cur%Alignment != 0 {
			return errors.Errorf("block at %#x is in the free list but is not aligned to %d", cur, Alignment)
		}

		tag := ReadTag(l.mem, cur)
		if tag.Allocated() {
			return errors.Errorf("block at %#x is in the free list but it is not free", cur)
		}
		if tag.Size() < MinBlockSize {
			return errors.Errorf("block at %#x is in the free list but its size %d is below the minimum of %d", cur, tag.Size(), MinBlockSize)
		}
		if ReadFooter(l.mem, cur) != tag {
			return errors.Errorf("block at %#x has header %s but footer %s", cur, tag, ReadFooter(l.mem, cur))
		}
	}

	return nil
}
