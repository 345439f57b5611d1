//go:build linux

package sighook

import (
	"errors"
	"os"

	"github.com/k2io/sighook/internal/procmaps"
)

// ModuleBase returns the load address of the main executable.
func ModuleBase() (uintptr, error) {
	maps, err := procmaps.ReadSelf()
	if err != nil {
		return 0, err
	}
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if base, ok := procmaps.ModuleBase(maps, exe); ok {
		return uintptr(base), nil
	}
	return 0, errors.New("main executable not found in /proc/self/maps")
}

// mappedLen returns how much of [start, start+size) is covered by an
// unbroken run of readable mappings.
func mappedLen(start, size uintptr) uintptr {
	maps, err := procmaps.ReadSelf()
	if err != nil {
		return size
	}
	end := uint64(start)
	for _, m := range maps {
		if m.End <= end {
			continue
		}
		if m.Start > end || m.Prot()&procmaps.Read == 0 {
			break
		}
		end = m.End
		if end >= uint64(start+size) {
			return size
		}
	}
	return uintptr(end) - start
}
