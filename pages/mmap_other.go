//go:build !unix

package pages

// SystemMapper falls back to Go heap backed pages on platforms without mmap
type SystemMapper struct {
	*ArenaMapper
}

func NewSystemMapper() *SystemMapper {
	arena, err := NewArenaMapper(ArenaOptions{})
	if err != nil {
		panic(err)
	}
	return &SystemMapper{ArenaMapper: arena}
}
