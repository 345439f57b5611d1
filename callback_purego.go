//go:build darwin || freebsd || (linux && (amd64 || arm64))

package sighook

import "github.com/ebitengine/purego"

// NewDecisionCallback returns a C function pointer that calls fn. The
// pointer stays valid for the life of the process.
func NewDecisionCallback(fn func(actor uintptr) bool) (uintptr, error) {
	return purego.NewCallback(decision(fn)), nil
}
