package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/heap"
	"github.com/vkngwrapper/pageheap/memutils/metadata"
	"github.com/vkngwrapper/pageheap/pages"
	"golang.org/x/exp/slog"
)

func newTestDriver(strategy metadata.AllocationStrategy) *Driver {
	return &Driver{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		options: heap.CreateOptions{Strategy: strategy},
		newMapper: func() (pages.Mapper, error) {
			return pages.NewArenaMapper(pages.ArenaOptions{PageSize: 4096})
		},
		check: true,
	}
}

func TestDriverReplaysTrace(t *testing.T) {
	trace, err := ParseTrace("short", strings.NewReader(shortTrace))
	require.NoError(t, err)

	result, err := newTestDriver(metadata.AllocationStrategyMinTime).Run(trace)
	require.NoError(t, err)

	require.Equal(t, 7, result.Ops)
	require.Equal(t, 3, result.Allocs)
	require.Equal(t, 3, result.Frees)
	require.Equal(t, 1, result.Reallocs)
	require.Equal(t, 2340, result.PeakPayload)
	require.True(t, result.PagesReturned)
	require.Equal(t, result.MapCalls, result.UnmapCalls)
	require.Greater(t, result.Utilization, 0.0)
	require.LessOrEqual(t, result.Utilization, 1.0)
}

func TestDriverRejectsBadTraces(t *testing.T) {
	testCases := map[string][]Op{
		"double alloc": {{Kind: OpAlloc, ID: 0, Size: 8}, {Kind: OpAlloc, ID: 0, Size: 8}},
		"free unused":  {{Kind: OpFree, ID: 0}},
		"double free":  {{Kind: OpAlloc, ID: 0, Size: 8}, {Kind: OpFree, ID: 0}, {Kind: OpFree, ID: 0}},
	}

	for name, ops := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestDriver(0).Run(&Trace{Name: name, IDCount: 1, Ops: ops})
			require.Error(t, err)
		})
	}
}

func TestStressWorkload(t *testing.T) {
	trace, err := GenerateTrace(3, 3000, 200, 3000)
	require.NoError(t, err)

	for _, strategy := range []metadata.AllocationStrategy{
		metadata.AllocationStrategyMinTime,
		metadata.AllocationStrategyMinMemory,
		metadata.AllocationStrategyMinOffset,
	} {
		t.Run(strategy.String(), func(t *testing.T) {
			result, err := newTestDriver(strategy).Run(trace)
			require.NoError(t, err)
			require.True(t, result.PagesReturned)
			require.Equal(t, result.Allocs, result.Frees)
		})
	}
}

func TestGenerateTraceIsDeterministic(t *testing.T) {
	first, err := GenerateTrace(9, 500, 20, 100)
	require.NoError(t, err)
	second, err := GenerateTrace(9, 500, 20, 100)
	require.NoError(t, err)

	require.Equal(t, first.Ops, second.Ops)

	_, err = GenerateTrace(9, 10, 0, 100)
	require.Error(t, err)
}

func TestReports(t *testing.T) {
	results := []*Result{
		{Name: "a.rep", Ops: 12345, PeakPayload: 1000, PeakMapped: 4096, Utilization: 1000.0 / 4096, PagesReturned: true},
		{Name: "b.rep", Ops: 10, PagesReturned: false},
	}

	var text bytes.Buffer
	require.NoError(t, writeTextReport(&text, results))
	require.Contains(t, text.String(), "ops 12,345")
	require.Contains(t, text.String(), "utilization 24.4%")
	require.Contains(t, text.String(), "all pages returned: NO")
	require.Contains(t, text.String(), "average utilization over 2 traces")

	var out bytes.Buffer
	require.NoError(t, writeJSONReport(&out, results))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "a.rep", decoded[0]["Name"])
	require.Equal(t, float64(4096), decoded[0]["PeakMapped"])
	require.Equal(t, false, decoded[1]["PagesReturned"])
}
