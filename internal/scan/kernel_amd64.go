//go:build amd64 && !noasm

package scan

const asmKernels = true

//go:noescape
func firstByteSSE2(p []byte, b byte) (off int, mask uint32)

//go:noescape
func firstByteAVX2(p []byte, b byte) (off int, mask uint32)

var (
	kernel16 kernel = firstByteSSE2
	kernel32 kernel = firstByteAVX2
)
