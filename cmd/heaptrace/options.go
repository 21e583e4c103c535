package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/pageheap/heap"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"github.com/vkngwrapper/pageheap/pages"
)

var strategyNames = map[string]metadata.AllocationStrategy{
	"first-fit":      metadata.AllocationStrategyMinTime,
	"best-fit":       metadata.AllocationStrategyMinMemory,
	"lowest-address": metadata.AllocationStrategyMinOffset,
}

// heapFlags are the allocator settings shared by every command
type heapFlags struct {
	strategy   string
	mapper     string
	pageSize   int
	limit      int
	growthStep int
	minChunks  int
	check      bool
}

func (f *heapFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", "first-fit", "Free block selection: first-fit, best-fit or lowest-address")
	cmd.Flags().StringVar(&f.mapper, "mapper", "arena", "Page source: arena (Go heap) or system (mmap)")
	cmd.Flags().IntVar(&f.pageSize, "page-size", pages.DefaultArenaPageSize, "Page size of the arena mapper")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum bytes the arena mapper may map at once (0 for no limit)")
	cmd.Flags().IntVar(&f.growthStep, "growth-step", 1, "Added to the chunk size multiplier every time a chunk is mapped")
	cmd.Flags().IntVar(&f.minChunks, "min-chunks", 0, "Number of empty chunks to keep mapped")
	cmd.Flags().BoolVar(&f.check, "check", false, "Validate the whole heap after every op")
}

func (f *heapFlags) driver() (*Driver, error) {
	strategy, ok := strategyNames[f.strategy]
	if !ok {
		return nil, errors.Newf("unknown strategy %q", f.strategy)
	}

	driver := &Driver{
		logger: newLogger(),
		options: heap.CreateOptions{
			Strategy:      strategy,
			GrowthStep:    f.growthStep,
			MinChunkCount: f.minChunks,
		},
		check: f.check,
	}

	switch f.mapper {
	case "arena":
		options := pages.ArenaOptions{PageSize: f.pageSize, Limit: f.limit}
		driver.newMapper = func() (pages.Mapper, error) {
			return pages.NewArenaMapper(options)
		}
	case "system":
		driver.newMapper = func() (pages.Mapper, error) {
			return pages.NewSystemMapper(), nil
		}
	default:
		return nil, errors.Newf("unknown mapper %q", f.mapper)
	}

	return driver, nil
}
