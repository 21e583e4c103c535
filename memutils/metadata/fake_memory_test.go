package metadata

// FakeMemory is a sparse word store that can stand in for mapped pages
type FakeMemory map[uintptr]uint64

func (m FakeMemory) Word(addr uintptr) uint64 {
	if addr%WordSize != 0 {
		panic("unaligned word read")
	}
	return m[addr]
}

func (m FakeMemory) SetWord(addr uintptr, value uint64) {
	if addr%WordSize != 0 {
		panic("unaligned word write")
	}
	m[addr] = value
}
