package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/memutils"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 16))
	require.Equal(t, 16, memutils.AlignUp(1, 16))
	require.Equal(t, 16, memutils.AlignUp(16, 16))
	require.Equal(t, 128, memutils.AlignUp(116, 16))
	require.Equal(t, 4096, memutils.AlignUp(208, 4096))
	require.Equal(t, 8192, memutils.AlignUp(4097, 4096))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, memutils.AlignDown(15, 16))
	require.Equal(t, 16, memutils.AlignDown(31, 16))
	require.Equal(t, 4096, memutils.AlignDown(8191, 4096))
}

func TestIsAligned(t *testing.T) {
	require.True(t, memutils.IsAligned(0x1000, 4096))
	require.True(t, memutils.IsAligned(0x1030, 16))
	require.False(t, memutils.IsAligned(0x1038, 16))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(4096, "page size"))
	require.NoError(t, memutils.CheckPow2(uint(1), "one"))

	err := memutils.CheckPow2(4000, "page size")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "page size is 4000")

	require.Error(t, memutils.CheckPow2(0, "zero"))
}
