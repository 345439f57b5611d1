//go:build !amd64

package cpufeat

const hasCPUID = false

type hostQuerier struct{}

func (hostQuerier) CPUID(uint32, uint32) (uint32, uint32, uint32, uint32) { return 0, 0, 0, 0 }

func (hostQuerier) XGETBV() (uint32, uint32) { return 0, 0 }
