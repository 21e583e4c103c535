package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"github.com/vkngwrapper/pageheap/pages"
	"golang.org/x/exp/slog"
)

// Every chunk is laid out, relative to its page-aligned base, as:
//
//	+0         size of the mapping
//	+8         chunk list node (next, prev); the chunk handle points here
//	+24        prologue header, an allocated 16 byte block with no payload
//	+32        prologue footer
//	+40        header of the first real block, whose payload starts at +48
//	size-8     terminator, an allocated header of size 0
const (
	chunkHandleOffset   = metadata.WordSize
	chunkPrologueOffset = chunkHandleOffset + 2*metadata.WordSize
	chunkFirstOffset    = chunkPrologueOffset + metadata.Overhead + metadata.WordSize

	// chunkOverhead is the number of bytes of each chunk that can never be handed out
	chunkOverhead = chunkFirstOffset

	prologueSize = metadata.Overhead
)

// chunkList owns every chunk mapped for a heap. The chunks are linked through the node at
// the start of each chunk.
type chunkList struct {
	logger   *slog.Logger
	space    *pages.Space
	freeList *metadata.FreeList
	list     metadata.List

	growth     int
	growthStep int
	bytes      int
}

func (c *chunkList) init(logger *slog.Logger, space *pages.Space, freeList *metadata.FreeList, growthStep int) {
	c.logger = logger
	c.space = space
	c.freeList = freeList
	c.growthStep = growthStep
	c.list.Init(space)
	c.reset()
}

func (c *chunkList) reset() {
	c.list.Reset()
	c.growth = 1
	c.bytes = 0
}

func (c *chunkList) Count() int { return c.list.Len() }

// Bytes is the number of bytes mapped for all chunks
func (c *chunkList) Bytes() int { return c.bytes }

func chunkBase(handle uintptr) uintptr { return handle - chunkHandleOffset }

func firstBlock(handle uintptr) uintptr { return chunkBase(handle) + chunkFirstOffset }

// MappedSize reads the size of the mapping backing the chunk
func (c *chunkList) MappedSize(handle uintptr) int {
	return int(c.space.Word(chunkBase(handle)))
}

// Acquire maps a new chunk large enough to hold a block of minBlockSize bytes, formats it as a
// single free block, and places that block on the free list. Each call grows the size of the
// next chunk.
func (c *chunkList) Acquire(minBlockSize int) (uintptr, error) {
	baseSize := pages.AlignToPage(minBlockSize+chunkOverhead+metadata.MinBlockSize, c.space.PageSize())
	growth := c.growth
	c.growth += c.growthStep

	if baseSize > pages.MaxMapSize/growth {
		return 0, errors.Wrapf(pages.ErrExhausted, "a chunk of %d x %d bytes is larger than any mapping", growth, baseSize)
	}
	size := growth * baseSize

	region, err := c.space.Map(size)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to map a %d byte chunk", size)
	}

	base := region.Addr
	size = region.Size()
	handle := base + chunkHandleOffset

	c.space.SetWord(base, uint64(size))
	c.list.Insert(handle)

	metadata.WriteTag(c.space, base+chunkPrologueOffset+metadata.WordSize, metadata.Pack(prologueSize, true))

	block := base + chunkFirstOffset
	metadata.WriteTag(c.space, block, metadata.Pack(size-chunkOverhead, false))
	metadata.WriteTerminator(c.space, base+uintptr(size))
	c.freeList.Insert(block)

	c.bytes += size

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "chunk acquired",
		slog.String("addr", hexAddr(base)),
		slog.Int("size", size),
		slog.Int("growth", growth),
	)

	return block, nil
}

func isPrologue(tag metadata.Tag) bool {
	return tag.Size() == prologueSize
}

// Owner returns the handle of the chunk containing the block at p by walking back to the
// chunk's prologue
func (c *chunkList) Owner(p uintptr) uintptr {
	cur := p
	for !isPrologue(metadata.PrevTag(c.space, cur)) {
		cur = metadata.Prev(c.space, cur)
	}
	return cur - chunkFirstOffset + chunkHandleOffset
}

// FreeSpan reports whether every block in the chunk containing p is free. If so, it also
// returns the number of bytes mapped for the chunk.
func (c *chunkList) FreeSpan(p uintptr) (int, bool) {
	total := metadata.ReadTag(c.space, p).Size() + chunkOverhead

	for cur := p; ; {
		tag := metadata.PrevTag(c.space, cur)
		if isPrologue(tag) {
			break
		}
		if tag.Allocated() {
			return 0, false
		}
		total += tag.Size()
		cur = metadata.Prev(c.space, cur)
	}

	for cur := metadata.Next(c.space, p); ; cur = metadata.Next(c.space, cur) {
		tag := metadata.ReadTag(c.space, cur)
		if tag.IsTerminator() {
			break
		}
		if tag.Allocated() {
			return 0, false
		}
		total += tag.Size()
	}

	return total, true
}

// Release unmaps an entirely free chunk. The chunk's one free block is removed from the
// free list. Failures to unmap are logged, and the chunk is forgotten either way.
func (c *chunkList) Release(handle uintptr, size int) {
	c.list.Remove(handle)
	c.freeList.Remove(firstBlock(handle))
	c.bytes -= size

	c.unmap(handle, size)
}

func (c *chunkList) unmap(handle uintptr, size int) {
	base := chunkBase(handle)
	err := c.space.Unmap(base, size)
	if err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "failed to unmap chunk",
			slog.String("addr", hexAddr(base)),
			slog.Int("size", size),
			slog.Any("error", err),
		)
		return
	}

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "chunk released",
		slog.String("addr", hexAddr(base)),
		slog.Int("size", size),
	)
}

// ReleaseAll unmaps every chunk regardless of its contents and forgets them
func (c *chunkList) ReleaseAll() {
	for handle := c.list.Head(); handle != 0; {
		next := c.list.Next(handle)
		c.unmap(handle, c.MappedSize(handle))
		handle = next
	}

	c.reset()
}

// Handles returns the handle of every chunk, most recently mapped first
func (c *chunkList) Handles() []uintptr {
	handles := make([]uintptr, 0, c.list.Len())
	for handle := c.list.Head(); handle != 0; handle = c.list.Next(handle) {
		handles = append(handles, handle)
	}
	return handles
}

// VisitBlocks calls visit with the payload address and tag of each block in the chunk, in
// address order. Iteration stops at the first error.
func (c *chunkList) VisitBlocks(handle uintptr, visit func(p uintptr, tag metadata.Tag) error) error {
	for cur := firstBlock(handle); ; {
		tag := metadata.ReadTag(c.space, cur)
		if tag.IsTerminator() {
			return nil
		}

		err := visit(cur, tag)
		if err != nil {
			return err
		}

		if tag.Size() == 0 {
			return errors.AssertionFailedf("free block at %#x has size 0", cur)
		}
		cur += uintptr(tag.Size())
	}
}

// Validate checks the sentinels and layout of every chunk
func (c *chunkList) Validate() error {
	err := c.list.Validate()
	if err != nil {
		return err
	}

	totalBytes := 0
	for handle := c.list.Head(); handle != 0; handle = c.list.Next(handle) {
		base := chunkBase(handle)
		if !c.space.Contains(base) {
			return errors.Newf("chunk %#x is in the chunk list but is not mapped", base)
		}

		size := c.MappedSize(handle)
		if size <= chunkOverhead || size%c.space.PageSize() != 0 {
			return errors.Newf("chunk %#x records a mapped size of %d", base, size)
		}
		totalBytes += size

		prologue := base + chunkPrologueOffset + metadata.WordSize
		if metadata.ReadTag(c.space, prologue) != metadata.Pack(prologueSize, true) ||
			metadata.ReadFooter(c.space, prologue) != metadata.Pack(prologueSize, true) {
			return errors.Newf("chunk %#x has a corrupt prologue", base)
		}

		end := base + uintptr(size)
		if !metadata.ReadTag(c.space, end).IsTerminator() {
			return errors.Newf("chunk %#x has a corrupt terminator", base)
		}

		var last uintptr
		err = c.VisitBlocks(handle, func(p uintptr, tag metadata.Tag) error {
			if p >= end {
				return errors.Newf("block at %#x runs past the end of chunk %#x", p, base)
			}
			last = p + uintptr(tag.Size())
			return nil
		})
		if err != nil {
			return err
		}

		if last != end {
			return errors.Newf("blocks in chunk %#x end at %#x, but the terminator is at %#x", base, last, end)
		}
	}

	if totalBytes != c.bytes {
		return errors.Newf("chunk list counted %d mapped bytes but the chunks add up to %d", c.bytes, totalBytes)
	}

	return nil
}
