package metadata

import (
	"fmt"

	"github.com/vkngwrapper/pageheap/memutils"
)

const (
	// WordSize is the size in bytes of a boundary tag and of an intrusive list link
	WordSize = 8
	// Alignment is the granularity of every block size and payload address
	Alignment = 16
	// Overhead is the number of bytes of each block taken up by its header and footer
	Overhead = 2 * WordSize
	// MinBlockSize is the smallest block that can sit in a free list: its payload must
	// hold the next and prev links
	MinBlockSize = Overhead + 2*WordSize

	allocatedBit uint64 = 0x1
	sizeMask            = ^uint64(Alignment - 1)
)

// Memory is word-addressed storage backing a heap. Addresses handed to Memory are always
// multiples of WordSize.
type Memory interface {
	Word(addr uintptr) uint64
	SetWord(addr uintptr, value uint64)
}

// Tag is the boundary tag written to both ends of a block: the block size with the
// allocated flag packed into the low bit
type Tag uint64

// Pack builds a Tag for a block of the given total size. The size must be a
// multiple of Alignment.
func Pack(size int, allocated bool) Tag {
	if size < 0 || size%Alignment != 0 {
		panic(fmt.Sprintf("block size %d is not a multiple of %d", size, Alignment))
	}

	tag := Tag(size)
	if allocated {
		tag |= Tag(allocatedBit)
	}
	return tag
}

// Size is the total size of the block, header and footer included
func (t Tag) Size() int { return int(uint64(t) & sizeMask) }

func (t Tag) Allocated() bool { return uint64(t)&allocatedBit != 0 }

// PayloadSize is the number of usable bytes between the header and the footer
func (t Tag) PayloadSize() int { return t.Size() - Overhead }

// IsTerminator reports whether this is the zero-sized allocated tag closing a chunk
func (t Tag) IsTerminator() bool { return t.Size() == 0 && t.Allocated() }

func (t Tag) String() string {
	if t.Allocated() {
		return fmt.Sprintf("%d/allocated", t.Size())
	}
	return fmt.Sprintf("%d/free", t.Size())
}

// BlockSizeFor returns the size of the smallest block whose payload holds payloadSize bytes
func BlockSizeFor(payloadSize int) int {
	size := memutils.AlignUp(payloadSize+Overhead, Alignment)
	if size < MinBlockSize {
		return MinBlockSize
	}
	return size
}

// Header returns the address of the header of the block whose payload starts at p
func Header(p uintptr) uintptr {
	return p - WordSize
}

// Footer returns the address of the footer of the block whose payload starts at p
func Footer(mem Memory, p uintptr) uintptr {
	return p + uintptr(ReadTag(mem, p).Size()) - Overhead
}

// ReadTag reads the header of the block whose payload starts at p
func ReadTag(mem Memory, p uintptr) Tag {
	return Tag(mem.Word(Header(p)))
}

// ReadFooter reads the footer of the block whose payload starts at p
func ReadFooter(mem Memory, p uintptr) Tag {
	return Tag(mem.Word(Footer(mem, p)))
}

// PrevTag reads the footer of the block physically preceding p
func PrevTag(mem Memory, p uintptr) Tag {
	return Tag(mem.Word(p - Overhead))
}

// Next returns the payload address of the block physically following p
func Next(mem Memory, p uintptr) uintptr {
	return p + uintptr(ReadTag(mem, p).Size())
}

// Prev returns the payload address of the block physically preceding p
func Prev(mem Memory, p uintptr) uintptr {
	return p - uintptr(PrevTag(mem, p).Size())
}

// WriteTag writes tag to both the header and the footer of the block at p. The footer
// position is derived from the new tag, so this is also how blocks are resized.
func WriteTag(mem Memory, p uintptr, tag Tag) {
	if tag.Size() < Overhead {
		panic(fmt.Sprintf("cannot write tag %s: a block must be at least %d bytes", tag, Overhead))
	}

	mem.SetWord(Header(p), uint64(tag))
	mem.SetWord(p+uintptr(tag.Size())-Overhead, uint64(tag))
}

// WriteTerminator writes the header-only sentinel that closes a chunk. p is the payload
// address the terminator would have, one word past its header.
func WriteTerminator(mem Memory, p uintptr) {
	mem.SetWord(Header(p), uint64(Pack(0, true)))
}
