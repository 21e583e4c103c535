package heap

import (
	"context"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// AddStatistics adds the chunk and allocation totals of this heap to stats. AllocationBytes
// counts whole blocks, tags included.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.ChunkCount += a.chunks.Count()
	stats.ChunkBytes += a.chunks.Bytes()
	stats.AllocationCount += a.allocationCount
	stats.AllocationBytes += a.allocationBytes
}

// AddDetailedStatistics walks every block of the heap and adds its size distribution to stats
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.ChunkCount += a.chunks.Count()
	stats.ChunkBytes += a.chunks.Bytes()

	for _, handle := range a.chunks.Handles() {
		a.visitBlocks(handle, func(_ uintptr, tag metadata.Tag) {
			if tag.Allocated() {
				stats.AddAllocation(tag.Size())
			} else {
				stats.AddUnusedRange(tag.Size())
			}
		})
	}
}

// visitBlocks walks the blocks of a chunk for reporting. A corrupt chunk ends the walk early and
// is logged rather than returned.
func (a *Allocator) visitBlocks(handle uintptr, visit func(block uintptr, tag metadata.Tag)) {
	err := a.chunks.VisitBlocks(handle, func(block uintptr, tag metadata.Tag) error {
		visit(block, tag)
		return nil
	})
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "heap corruption detected while walking chunk",
			slog.String("chunk", hexAddr(chunkBase(handle))),
			slog.Any("error", err),
		)
	}
}

func (a *Allocator) sortedChunks() []uintptr {
	handles := a.chunks.Handles()
	slices.Sort(handles)
	return handles
}

// BuildStatsString returns a JSON description of the heap. If detailed is true, every block of
// every chunk is listed as well.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	objState := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	objState.Name("Strategy").String(a.strategy.String())
	totalObj := objState.Name("Total").Object()
	writeStatistics(&totalObj, &stats)
	totalObj.End()

	if detailed {
		chunkArray := objState.Name("Chunks").Array()
		for _, handle := range a.sortedChunks() {
			a.printChunk(&chunkArray, handle)
		}
		chunkArray.End()
	}

	objState.End()

	return string(writer.Bytes())
}

func writeStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("ChunkCount").Int(stats.ChunkCount)
	json.Name("ChunkBytes").Int(stats.ChunkBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	json.Name("UnusedRangeBytes").Int(stats.UnusedRangeBytes)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

func (a *Allocator) printChunk(json *jwriter.ArrayState, handle uintptr) {
	obj := json.Object()
	defer obj.End()

	base := chunkBase(handle)
	obj.Name("Address").String(hexAddr(base))
	obj.Name("TotalBytes").Int(a.chunks.MappedSize(handle))

	blockArray := obj.Name("Blocks").Array()
	defer blockArray.End()

	a.visitBlocks(handle, func(block uintptr, tag metadata.Tag) {
		blockObj := blockArray.Object()
		defer blockObj.End()

		blockObj.Name("Offset").Int(int(block - base))
		blockObj.Name("Size").Int(tag.Size())
		blockObj.Name("Free").Bool(!tag.Allocated())
	})
}

// DebugLogAllAllocations logs every live allocation at debug level, which is useful for
// tracking down leaks before a heap is discarded
func (a *Allocator) DebugLogAllAllocations() {
	for _, handle := range a.sortedChunks() {
		a.visitBlocks(handle, func(block uintptr, tag metadata.Tag) {
			if tag.Allocated() {
				a.logger.LogAttrs(context.Background(), slog.LevelDebug, "unreleased allocation",
					slog.String("addr", hexAddr(block)),
					slog.Int("size", tag.PayloadSize()),
				)
			}
		})
	}
}
