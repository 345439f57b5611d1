//go:build windows

package sighook

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

type windowsMemory struct{}

// HostMemory returns the Memory of the running process.
func HostMemory() Memory { return windowsMemory{} }

func (windowsMemory) Protection(b []byte) (Prot, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addrOf(b), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return 0, err
	}
	return fromPageProt(mbi.Protect), nil
}

func (windowsMemory) Protect(b []byte, p Prot) error {
	var old uint32
	return windows.VirtualProtect(addrOf(b), uintptr(len(b)), toPageProt(p), &old)
}

func (windowsMemory) FlushInstructionCache(b []byte) error {
	proc, err := windows.GetCurrentProcess()
	if err != nil {
		return err
	}
	r, _, err := procFlushInstructionCache.Call(uintptr(proc), addrOf(b), uintptr(len(b)))
	if r == 0 {
		return err
	}
	return nil
}

func (windowsMemory) AllocExec(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(roundPage(size)),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (windowsMemory) Free(b []byte) error {
	return windows.VirtualFree(addrOf(b), 0, windows.MEM_RELEASE)
}

func toPageProt(p Prot) uint32 {
	switch p {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtRW:
		return windows.PAGE_READWRITE
	case ProtExec:
		return windows.PAGE_EXECUTE
	case ProtRX:
		return windows.PAGE_EXECUTE_READ
	case ProtRWX, ProtWrite | ProtExec:
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_NOACCESS
}

func fromPageProt(v uint32) Prot {
	switch v &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtRW
	case windows.PAGE_EXECUTE:
		return ProtExec
	case windows.PAGE_EXECUTE_READ:
		return ProtRX
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtRWX
	}
	return 0
}

func init() {
	pageSize = uintptr(os.Getpagesize())
}
