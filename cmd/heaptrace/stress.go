package main

import (
	"math/rand"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	stressFlags   heapFlags
	stressSeed    int64
	stressOps     int
	stressIDs     int
	stressMaxSize int
)

func init() {
	cmd := newStressCmd()
	stressFlags.register(cmd)
	cmd.Flags().Int64Var(&stressSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&stressOps, "ops", 100000, "Number of ops to generate")
	cmd.Flags().IntVar(&stressIDs, "ids", 1000, "Maximum number of blocks live at once")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 4096, "Largest request size")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a random allocation workload",
		Long: `The stress command generates a seeded random trace of allocations, frees and
reallocations and replays it like the replay command does.

Example:
  heaptrace stress --seed 7 --ops 500000 --check
  heaptrace stress --strategy best-fit --max-size 65536 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	return cmd
}

// GenerateTrace builds a random trace that ends with every block freed
func GenerateTrace(seed int64, opCount, idCount, maxSize int) (*Trace, error) {
	if opCount < 0 || idCount <= 0 || maxSize < 0 {
		return nil, errors.Newf("cannot generate %d ops over %d ids of up to %d bytes", opCount, idCount, maxSize)
	}

	rng := rand.New(rand.NewSource(seed))
	trace := &Trace{
		Name:    "stress",
		IDCount: idCount,
		Weight:  1,
		Ops:     make([]Op, 0, opCount+idCount),
	}

	live := make([]bool, idCount)
	var free, used []int
	for id := idCount - 1; id >= 0; id-- {
		free = append(free, id)
	}

	for i := 0; i < opCount; i++ {
		roll := rng.Intn(10)
		switch {
		case len(used) == 0 || (roll < 5 && len(free) > 0):
			id := free[len(free)-1]
			free = free[:len(free)-1]
			used = append(used, id)
			live[id] = true
			trace.Ops = append(trace.Ops, Op{Kind: OpAlloc, ID: id, Size: rng.Intn(maxSize + 1)})
		case roll < 8:
			index := rng.Intn(len(used))
			id := used[index]
			used[index] = used[len(used)-1]
			used = used[:len(used)-1]
			free = append(free, id)
			live[id] = false
			trace.Ops = append(trace.Ops, Op{Kind: OpFree, ID: id})
		default:
			id := used[rng.Intn(len(used))]
			trace.Ops = append(trace.Ops, Op{Kind: OpRealloc, ID: id, Size: rng.Intn(maxSize + 1)})
		}
	}

	for id, isLive := range live {
		if isLive {
			trace.Ops = append(trace.Ops, Op{Kind: OpFree, ID: id})
		}
	}

	return trace, nil
}

func runStress() error {
	driver, err := stressFlags.driver()
	if err != nil {
		return err
	}

	trace, err := GenerateTrace(stressSeed, stressOps, stressIDs, stressMaxSize)
	if err != nil {
		return err
	}

	result, err := driver.Run(trace)
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSONReport(os.Stdout, []*Result{result})
	}
	return writeTextReport(os.Stdout, []*Result{result})
}
