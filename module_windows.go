//go:build windows

package sighook

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// ModuleBase returns the load address of the main executable.
func ModuleBase() (uintptr, error) {
	var h windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &h); err != nil {
		return 0, err
	}
	return uintptr(h), nil
}

// mappedLen returns how much of [start, start+size) is committed readable
// memory without a gap.
func mappedLen(start, size uintptr) uintptr {
	addr, end := start, start+size
	for addr < end {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			break
		}
		if mbi.State != windows.MEM_COMMIT || mbi.Protect&windows.PAGE_GUARD != 0 || fromPageProt(mbi.Protect)&ProtRead == 0 {
			break
		}
		addr = mbi.BaseAddress + mbi.RegionSize
	}
	if addr > end {
		addr = end
	}
	return addr - start
}
