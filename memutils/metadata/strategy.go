package metadata

// AllocationStrategy exposes several options for choosing the free block that will satisfy a new
// allocation. If none is chosen, AllocationStrategyMinTime is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free block that is large enough for the
	// allocation, improving utilization at the expense of a full scan of the free list
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the first suitable free block in free list order. This is
	// the default.
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset selects the suitable free block with the lowest address. This
	// packs data toward the start of the oldest mappings but always scans the whole free list.
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	name, ok := allocationStrategyMapping[s]
	if !ok {
		return "Unknown"
	}
	return name
}
