//go:build !amd64 || noasm

package scan

const asmKernels = false

var (
	kernel16 kernel = swar16
	kernel32 kernel = swar32
)
