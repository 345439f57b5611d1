//go:build !windows && !darwin && !freebsd && !(linux && (amd64 || arm64))

package sighook

func NewDecisionCallback(fn func(actor uintptr) bool) (uintptr, error) {
	return 0, ErrUnsupported
}
