//go:build !linux && !windows

package sighook

// ModuleBase is only implemented for linux and windows.
func ModuleBase() (uintptr, error) { return 0, ErrUnsupported }

func mappedLen(_, size uintptr) uintptr { return size }
