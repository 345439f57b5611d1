//go:build !unix && !windows

package sighook

type noMemory struct{}

// HostMemory returns a Memory whose operations all fail with ErrUnsupported.
func HostMemory() Memory { return noMemory{} }

func (noMemory) Protection([]byte) (Prot, error) { return 0, ErrUnsupported }

func (noMemory) Protect([]byte, Prot) error { return ErrUnsupported }

func (noMemory) FlushInstructionCache([]byte) error { return ErrUnsupported }

func (noMemory) AllocExec(int) ([]byte, error) { return nil, ErrUnsupported }

func (noMemory) Free([]byte) error { return ErrUnsupported }

func init() {
	pageSize = 4096
}
