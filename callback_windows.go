//go:build windows

package sighook

import "syscall"

// NewDecisionCallback returns a C function pointer that calls fn. The
// pointer stays valid for the life of the process.
func NewDecisionCallback(fn func(actor uintptr) bool) (uintptr, error) {
	return syscall.NewCallback(decision(fn)), nil
}
