package heap

import (
	"context"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"github.com/vkngwrapper/pageheap/pages"
	"golang.org/x/exp/slog"
)

// maxAllocationSize is the largest request Allocate will attempt to satisfy
const maxAllocationSize = math.MaxInt >> 2

// Ptr is the address of the payload of an allocation. The zero Ptr is never returned from a
// successful Allocate.
type Ptr uintptr

// Allocator carves chunks of mapped pages into individually releasable allocations
type Allocator struct {
	logger        *slog.Logger
	space         *pages.Space
	strategy      metadata.AllocationStrategy
	minChunkCount int

	freeList metadata.FreeList
	chunks   chunkList

	initialized     bool
	allocationCount int
	allocationBytes int
}

var _ memutils.Validatable = &Allocator{}

func hexAddr(addr uintptr) string {
	return fmt.Sprintf("%#x", addr)
}

// Initialize prepares the Allocator for use. Calling it on an Allocator that is already in use
// unmaps every chunk and invalidates every outstanding allocation.
func (a *Allocator) Initialize() error {
	if a.initialized && a.chunks.Count() > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "reinitializing heap", slog.Int("chunks", a.chunks.Count()), slog.Int("allocations", a.allocationCount))
		a.chunks.ReleaseAll()
	}

	a.freeList.Reset()
	a.chunks.reset()
	a.allocationCount = 0
	a.allocationBytes = 0
	a.initialized = true

	return nil
}

// Allocate returns a 16-byte aligned payload of at least size bytes that does not overlap any
// other live allocation. New chunks are mapped when no free block is large enough, and any
// error from the Mapper is returned.
func (a *Allocator) Allocate(size int) (Ptr, error) {
	if !a.initialized {
		return 0, ErrNotInitialized
	}

	if size < 0 || size > maxAllocationSize {
		return 0, errors.Wrapf(ErrInvalidSize, "cannot allocate %d bytes", size)
	}

	needed := metadata.BlockSizeFor(size)

	block := a.freeList.FindFit(needed, a.strategy)
	if block == 0 {
		_, err := a.chunks.Acquire(needed)
		if err != nil {
			return 0, err
		}

		block = a.freeList.FindFit(needed, a.strategy)
		if block == 0 {
			return 0, errors.AssertionFailedf("a freshly acquired chunk had no block of %d bytes", needed)
		}
	}

	a.place(block, needed)
	memutils.DebugValidate(a)

	return Ptr(block), nil
}

// place takes block off the free list and marks the first needed bytes of it allocated. If
// what is left over could hold a block, it is split off and freed.
func (a *Allocator) place(block uintptr, needed int) {
	a.freeList.Remove(block)

	size := metadata.ReadTag(a.space, block).Size()
	if size-needed >= metadata.MinBlockSize {
		metadata.WriteTag(a.space, block, metadata.Pack(needed, true))

		rest := metadata.Next(a.space, block)
		metadata.WriteTag(a.space, rest, metadata.Pack(size-needed, false))
		a.freeList.Insert(rest)

		size = needed
	} else {
		metadata.WriteTag(a.space, block, metadata.Pack(size, true))
	}

	a.allocationCount++
	a.allocationBytes += size
}

// Release returns an allocation to the heap. Releasing 0, releasing before Initialize, and
// releasing an allocation that has already been released are all no-ops. Releasing an address
// that never came from Allocate has undefined results.
func (a *Allocator) Release(p Ptr) {
	if p == 0 || !a.initialized {
		return
	}

	block := uintptr(p)
	if !a.space.Contains(metadata.Header(block)) {
		// The chunk that held this allocation has already been unmapped
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "ignoring release of unmapped address", slog.String("addr", hexAddr(block)))
		return
	}

	tag := metadata.ReadTag(a.space, block)
	if !tag.Allocated() {
		return
	}

	a.allocationCount--
	a.allocationBytes -= tag.Size()

	metadata.WriteTag(a.space, block, metadata.Pack(tag.Size(), false))
	a.freeList.Insert(block)
	block = a.coalesce(block)

	span, free := a.chunks.FreeSpan(block)
	if free && a.chunks.Count() > a.minChunkCount {
		a.chunks.Release(a.chunks.Owner(block), span)
	}

	memutils.DebugValidate(a)
}

// coalesce merges the free block at block with its free neighbors and returns the address of
// the merged block, which is on the free list
func (a *Allocator) coalesce(block uintptr) uintptr {
	size := metadata.ReadTag(a.space, block).Size()

	prevTag := metadata.PrevTag(a.space, block)
	if !prevTag.Allocated() {
		prev := metadata.Prev(a.space, block)
		a.freeList.Remove(block)
		a.freeList.Remove(prev)

		size += prevTag.Size()
		block = prev
		metadata.WriteTag(a.space, block, metadata.Pack(size, false))
		a.freeList.Insert(block)
	}

	next := metadata.Next(a.space, block)
	nextTag := metadata.ReadTag(a.space, next)
	if !nextTag.Allocated() {
		a.freeList.Remove(next)

		size += nextTag.Size()
		metadata.WriteTag(a.space, block, metadata.Pack(size, false))
	}

	return block
}

// UsableSize is the number of bytes of payload available at p, which may be more than was
// requested
func (a *Allocator) UsableSize(p Ptr) int {
	return metadata.ReadTag(a.space, uintptr(p)).PayloadSize()
}

// Payload returns a view of the usable bytes of the allocation at p. The slice must not be used
// after p is released.
func (a *Allocator) Payload(p Ptr) []byte {
	return a.space.Bytes(uintptr(p), a.UsableSize(p))
}

// Validate walks every block of every chunk and returns an error describing the first
// inconsistency it finds
func (a *Allocator) Validate() error {
	if !a.initialized {
		return nil
	}

	err := a.freeList.Validate()
	if err != nil {
		return errors.Wrap(err, "free list")
	}

	err = a.chunks.Validate()
	if err != nil {
		return errors.Wrap(err, "chunk list")
	}

	freeBlocks := swiss.NewMap[uintptr, struct{}](uint32(a.freeList.Len()))
	for block := a.freeList.Head(); block != 0; block = a.freeList.Next(block) {
		freeBlocks.Put(block, struct{}{})
	}

	allocationCount := 0
	allocationBytes := 0
	freeCount := 0

	for _, handle := range a.chunks.Handles() {
		prevFree := false

		err = a.chunks.VisitBlocks(handle, func(block uintptr, tag metadata.Tag) error {
			if !memutils.IsAligned(block, metadata.Alignment) {
				return errors.Newf("block at %#x is not aligned to %d", block, metadata.Alignment)
			}

			if tag.Size() < metadata.MinBlockSize {
				return errors.Newf("block at %#x has size %d, below the minimum of %d", block, tag.Size(), metadata.MinBlockSize)
			}

			footer := metadata.ReadFooter(a.space, block)
			if footer != tag {
				return errors.Newf("block at %#x has header %s but footer %s", block, tag, footer)
			}

			if tag.Allocated() {
				allocationCount++
				allocationBytes += tag.Size()
				prevFree = false
				return nil
			}

			if prevFree {
				return errors.Newf("free block at %#x follows another free block", block)
			}
			prevFree = true

			if !freeBlocks.Has(block) {
				return errors.Newf("free block at %#x is not in the free list", block)
			}
			freeCount++

			return nil
		})
		if err != nil {
			return err
		}
	}

	if freeCount != a.freeList.Len() {
		return errors.Newf("the free list holds %d blocks, but the chunks only contain %d free blocks", a.freeList.Len(), freeCount)
	}

	if allocationCount != a.allocationCount {
		return errors.Newf("the allocation count of the heap is %d, but the allocated blocks only added up to %d", a.allocationCount, allocationCount)
	}

	if allocationBytes != a.allocationBytes {
		return errors.Newf("the allocated size of the heap is %d, but the allocated blocks only added up to %d", a.allocationBytes, allocationBytes)
	}

	return nil
}
