package heap

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"github.com/vkngwrapper/pageheap/pages"
	"golang.org/x/exp/slog"
)

func newTestAllocator(t *testing.T) *Allocator {
	arena, err := pages.NewArenaMapper(pages.ArenaOptions{PageSize: 4096})
	require.NoError(t, err)

	allocator, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), arena, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, allocator.Initialize())

	return allocator
}

func TestAcquireFormatsChunk(t *testing.T) {
	allocator := newTestAllocator(t)

	block, err := allocator.chunks.Acquire(128)
	require.NoError(t, err)

	handle := allocator.chunks.list.Head()
	base := chunkBase(handle)
	require.Equal(t, base+48, block)
	require.Equal(t, firstBlock(handle), block)
	require.Equal(t, 4096, allocator.chunks.MappedSize(handle))

	require.Equal(t, metadata.Pack(16, true), metadata.Tag(allocator.space.Word(base+24)))
	require.Equal(t, metadata.Pack(16, true), metadata.Tag(allocator.space.Word(base+32)))
	require.Equal(t, metadata.Pack(4048, false), metadata.ReadTag(allocator.space, block))
	require.Equal(t, metadata.Pack(4048, false), metadata.ReadFooter(allocator.space, block))
	require.Equal(t, metadata.Pack(0, true), metadata.Tag(allocator.space.Word(base+4096-8)))

	require.Equal(t, block, allocator.freeList.Head())
	require.Equal(t, 2, allocator.chunks.growth)
	require.NoError(t, allocator.Validate())
}

func TestOwnerAndFreeSpan(t *testing.T) {
	allocator := newTestAllocator(t)

	a, err := allocator.Allocate(100)
	require.NoError(t, err)
	b, err := allocator.Allocate(300)
	require.NoError(t, err)
	c, err := allocator.Allocate(40)
	require.NoError(t, err)

	handle := allocator.chunks.list.Head()
	require.Equal(t, handle, allocator.chunks.Owner(uintptr(a)))
	require.Equal(t, handle, allocator.chunks.Owner(uintptr(b)))
	require.Equal(t, handle, allocator.chunks.Owner(uintptr(c)))

	_, free := allocator.chunks.FreeSpan(uintptr(b))
	require.False(t, free)

	allocator.Release(a)
	allocator.Release(c)
	_, free = allocator.chunks.FreeSpan(uintptr(a))
	require.False(t, free)

	// Mark b free by hand so the span can be measured before the chunk is released
	tag := metadata.ReadTag(allocator.space, uintptr(b))
	metadata.WriteTag(allocator.space, uintptr(b), metadata.Pack(tag.Size(), false))
	span, free := allocator.chunks.FreeSpan(uintptr(b))
	require.True(t, free)
	require.Equal(t, 4096, span)
}

func TestValidateDetectsCorruption(t *testing.T) {
	testCases := map[string]func(a *Allocator, p uintptr){
		"footer mismatch": func(a *Allocator, p uintptr) {
			a.space.SetWord(metadata.Footer(a.space, p), uint64(metadata.Pack(64, true)))
		},
		"adjacent free blocks": func(a *Allocator, p uintptr) {
			tag := metadata.ReadTag(a.space, p)
			metadata.WriteTag(a.space, p, metadata.Pack(tag.Size(), false))
			a.freeList.Insert(p)
			a.allocationCount--
			a.allocationBytes -= tag.Size()
		},
		"free block off the free list": func(a *Allocator, p uintptr) {
			a.freeList.Remove(metadata.Next(a.space, p))
		},
		"allocation count": func(a *Allocator, p uintptr) {
			a.allocationCount++
		},
		"prologue": func(a *Allocator, p uintptr) {
			a.space.SetWord(p-24, 0)
		},
		"terminator": func(a *Allocator, p uintptr) {
			handle := a.chunks.Owner(p)
			a.space.SetWord(chunkBase(handle)+uintptr(a.chunks.MappedSize(handle))-8, 0)
		},
	}

	for name, corrupt := range testCases {
		t.Run(name, func(t *testing.T) {
			allocator := newTestAllocator(t)

			p, err := allocator.Allocate(100)
			require.NoError(t, err)
			require.NoError(t, allocator.Validate())

			corrupt(allocator, uintptr(p))
			require.Error(t, allocator.Validate())
		})
	}
}

func TestAcquireRejectsOverflowingGrowth(t *testing.T) {
	allocator := newTestAllocator(t)
	allocator.chunks.growth = math.MaxInt >> 8

	_, err := allocator.chunks.Acquire(1 << 20)
	require.True(t, errors.Is(err, pages.ErrExhausted))
	require.Equal(t, 0, allocator.chunks.Count())
	require.Equal(t, math.MaxInt>>8+1, allocator.chunks.growth)
	require.NoError(t, allocator.Validate())
}

func TestReportingLogsCorruptChunks(t *testing.T) {
	var buf bytes.Buffer
	arena, err := pages.NewArenaMapper(pages.ArenaOptions{PageSize: 4096})
	require.NoError(t, err)

	allocator, err := New(slog.New(slog.NewTextHandler(&buf, nil)), arena, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, allocator.Initialize())

	p, err := allocator.Allocate(100)
	require.NoError(t, err)

	// A free block claiming a size of 0 can never be stepped over
	rest := metadata.Next(allocator.space, uintptr(p))
	allocator.space.SetWord(metadata.Header(rest), uint64(metadata.Pack(0, false)))

	var stats memutils.DetailedStatistics
	stats.Clear()
	require.NotPanics(t, func() { allocator.AddDetailedStatistics(&stats) })
	require.Equal(t, 1, stats.AllocationCount)
	require.Contains(t, buf.String(), "heap corruption detected while walking chunk")
	require.Contains(t, buf.String(), "level=ERROR")

	buf.Reset()
	require.NotPanics(t, func() { allocator.BuildStatsString(true) })
	require.Contains(t, buf.String(), "heap corruption detected while walking chunk")

	require.Error(t, allocator.Validate())
}
