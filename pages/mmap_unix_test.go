//go:build unix

package pages_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/pages"
)

func TestSystemMapperRoundTrip(t *testing.T) {
	mapper := pages.NewSystemMapper()
	require.NoError(t, pages.CheckPageSize(mapper.PageSize()))

	space, err := pages.NewSpace(mapper)
	require.NoError(t, err)

	region, err := space.Map(1)
	require.NoError(t, err)
	require.Equal(t, mapper.PageSize(), region.Size())

	space.SetWord(region.Addr+8, 99)
	require.Equal(t, uint64(99), space.Word(region.Addr+8))

	require.NoError(t, space.Unmap(region.Addr, region.Size()))
	require.False(t, space.Contains(region.Addr))
}
