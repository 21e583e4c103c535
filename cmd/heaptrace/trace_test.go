package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const shortTrace = `20000
3
7
1
a 0 100
a 1 2040
r 0 300
f 1
a 2 48
f 0
f 2
`

func TestParseTrace(t *testing.T) {
	trace, err := ParseTrace("short", strings.NewReader(shortTrace))
	require.NoError(t, err)

	require.Equal(t, 20000, trace.SuggestedHeapSize)
	require.Equal(t, 3, trace.IDCount)
	require.Equal(t, 1, trace.Weight)
	require.Equal(t, []Op{
		{Kind: OpAlloc, ID: 0, Size: 100},
		{Kind: OpAlloc, ID: 1, Size: 2040},
		{Kind: OpRealloc, ID: 0, Size: 300},
		{Kind: OpFree, ID: 1},
		{Kind: OpAlloc, ID: 2, Size: 48},
		{Kind: OpFree, ID: 0},
		{Kind: OpFree, ID: 2},
	}, trace.Ops)
}

func TestParseTraceWithBOMAndCRLF(t *testing.T) {
	input := "\ufeff" + strings.ReplaceAll(shortTrace, "\n", "\r\n")

	trace, err := ParseTrace("windows", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, trace.Ops, 7)
}

func TestParseTraceErrors(t *testing.T) {
	testCases := map[string]string{
		"short header":    "20000\n3\n",
		"bad header":      "20000\nthree\n1\n1\n",
		"unknown op":      "0\n1\n1\n1\nx 0 10\n",
		"id out of range": "0\n1\n1\n1\na 1 10\n",
		"missing size":    "0\n1\n1\n1\na 0\n",
		"negative size":   "0\n1\n1\n1\na 0 -5\n",
		"op count":        "0\n1\n2\n1\na 0 10\n",
	}

	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTrace(name, strings.NewReader(input))
			require.Error(t, err)
		})
	}
}
