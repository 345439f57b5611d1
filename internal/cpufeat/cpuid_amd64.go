package cpufeat

const hasCPUID = true

//go:noescape
func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)

//go:noescape
func xgetbv() (eax, edx uint32)

type hostQuerier struct{}

func (hostQuerier) CPUID(leaf, sub uint32) (uint32, uint32, uint32, uint32) {
	return cpuid(leaf, sub)
}

// XGETBV reads XCR0. Callers must have seen OSXSAVE first; the instruction
// faults otherwise.
func (hostQuerier) XGETBV() (uint32, uint32) {
	return xgetbv()
}
