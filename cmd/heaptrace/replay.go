package main

import (
	"os"

	"github.com/spf13/cobra"
)

var replayFlags heapFlags

func init() {
	cmd := newReplayCmd()
	replayFlags.register(cmd)
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay malloc lab trace files",
		Long: `The replay command runs each trace file against a fresh allocator and reports
utilization (peak live payload over peak mapped bytes) and page traffic.

Example:
  heaptrace replay traces/amptjp.rep traces/binary.rep
  heaptrace replay --strategy best-fit --check traces/*.rep
  heaptrace replay --mapper system --json traces/realloc.rep`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args)
		},
	}
	return cmd
}

func runReplay(args []string) error {
	driver, err := replayFlags.driver()
	if err != nil {
		return err
	}

	results := make([]*Result, 0, len(args))
	for _, path := range args {
		trace, err := LoadTrace(path)
		if err != nil {
			return err
		}

		result, err := driver.Run(trace)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	if jsonOut {
		return writeJSONReport(os.Stdout, results)
	}
	return writeTextReport(os.Stdout, results)
}
