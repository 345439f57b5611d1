package sighook

import (
	"strings"
	"unsafe"
)

// Prot is a page protection, numerically equal to the PROT_* bits.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec

	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
	ProtRW  = ProtRead | ProtWrite
)

func (p Prot) String() string {
	var sb strings.Builder
	for _, f := range []struct {
		bit Prot
		c   byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&f.bit != 0 {
			sb.WriteByte(f.c)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Memory is the operating system side of patching code.
type Memory interface {
	// Protection returns the current protection of the pages holding b.
	Protection(b []byte) (Prot, error)
	// Protect sets the protection of every page b touches.
	Protect(b []byte, p Prot) error
	// FlushInstructionCache makes the CPU refetch b.
	FlushInstructionCache(b []byte) error
	// AllocExec returns size bytes of fresh read-write memory that Protect
	// can later make executable.
	AllocExec(size int) ([]byte, error)
	// Free releases a buffer returned by AllocExec. Installed hooks keep
	// their buffer for the life of the process.
	Free(b []byte) error
}

var pageSize uintptr

// pageSpan widens b to whole pages.
func pageSpan(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b[0]))
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + uintptr(len(b)) + pageSize - 1 - start) / pageSize)
	return unsafe.Slice((*byte)(unsafe.Pointer(start)), length)
}

func roundPage(n int) int {
	p := int(pageSize)
	return (n + p - 1) &^ (p - 1)
}

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
