//go:build !amd64

package sighook

// flushICache does nothing off amd64; the generated code is x86-64 only and
// is never executed there.
func flushICache([]byte) {}
