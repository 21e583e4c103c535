package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"github.com/vkngwrapper/pageheap/pages"
	"golang.org/x/exp/slog"
)

const defaultGrowthStep = 1

// CreateOptions contains optional settings when creating an Allocator. The zero value is valid.
type CreateOptions struct {
	// Strategy decides which free block satisfies an allocation. If 0,
	// metadata.AllocationStrategyMinTime (first fit) is used.
	Strategy metadata.AllocationStrategy
	// GrowthStep is added to the chunk size multiplier every time a new chunk is mapped, so
	// that a heap that keeps growing maps larger and larger chunks. If 0, 1 is used.
	GrowthStep int
	// MinChunkCount is the number of chunks that stay mapped even when nothing in them is
	// allocated. If 0, every chunk is returned to the Mapper as soon as it is empty.
	MinChunkCount int
}

func (o CreateOptions) validate() error {
	switch o.Strategy {
	case 0, metadata.AllocationStrategyMinTime, metadata.AllocationStrategyMinMemory, metadata.AllocationStrategyMinOffset:
	default:
		return errors.Newf("unknown allocation strategy %d", o.Strategy)
	}

	if o.GrowthStep < 0 {
		return errors.Newf("growth step %d is negative", o.GrowthStep)
	}

	if o.MinChunkCount < 0 {
		return errors.Newf("minimum chunk count %d is negative", o.MinChunkCount)
	}

	return nil
}

// New creates a new Allocator. Initialize must be called before the Allocator can be used.
//
// logger - Receives debug output about chunks being mapped and unmapped. If nil, slog.Default() is used.
//
// mapper - The source of the pages the Allocator carves up
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, mapper pages.Mapper, options CreateOptions) (*Allocator, error) {
	if mapper == nil {
		return nil, errors.New("heap.New requires a mapper")
	}

	err := options.validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid heap.CreateOptions")
	}

	if logger == nil {
		logger = slog.Default()
	}

	space, err := pages.NewSpace(mapper)
	if err != nil {
		return nil, err
	}

	allocator := &Allocator{
		logger:        logger,
		space:         space,
		strategy:      options.Strategy,
		minChunkCount: options.MinChunkCount,
	}

	if allocator.strategy == 0 {
		allocator.strategy = metadata.AllocationStrategyMinTime
	}

	growthStep := options.GrowthStep
	if growthStep == 0 {
		growthStep = defaultGrowthStep
	}

	allocator.freeList.Init(space)
	allocator.chunks.init(logger, space, &allocator.freeList, growthStep)

	return allocator, nil
}
