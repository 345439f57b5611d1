// Package scan implements the tiered byte-signature scanners.
//
// Every tier returns the leftmost match, and all tiers return the same
// result for the same input. The vector tiers broadcast the first pattern
// byte, collect a per-chunk bitmask of candidate positions and confirm each
// candidate with the baseline comparison, lowest bit first. Their tail, the
// bytes below one chunk width, is scanned with the baseline algorithm.
package scan

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/k2io/sighook/internal/memview"
)

// Tier selects a scanner implementation by vector width.
type Tier int

const (
	Scalar Tier = iota
	SSE2
	AVX2
)

// Tiers lists every tier from the widest to the baseline.
var Tiers = []Tier{AVX2, SSE2, Scalar}

func (t Tier) String() string {
	switch t {
	case Scalar:
		return "Scalar"
	case SSE2:
		return "SSE2"
	case AVX2:
		return "AVX2"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Width is the number of bytes examined per chunk.
func (t Tier) Width() int {
	switch t {
	case SSE2:
		return 16
	case AVX2:
		return 32
	}
	return 1
}

// ParseTier accepts the tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalar":
		return Scalar, nil
	case "sse2":
		return SSE2, nil
	case "avx2":
		return AVX2, nil
	}
	return Scalar, fmt.Errorf("unknown scan tier %q", s)
}

// Func returns the index of the leftmost occurrence of pattern in hay, or -1.
type Func func(hay, pattern []byte) int

// kernel scans p, whose length is a multiple of the chunk width, and returns
// the offset of the first chunk containing b together with the bitmask of
// matching bytes in that chunk. It returns (len(p), 0) when no chunk matches.
type kernel func(p []byte, b byte) (off int, mask uint32)

// Native reports whether the vector tiers run the assembly kernels. When it
// is false they run the portable SWAR kernels with the same semantics.
const Native = asmKernels

// ScanScalar is the baseline tier.
func ScanScalar(hay, pattern []byte) int {
	n := len(pattern)
	if n == 0 || len(hay) < n {
		return -1
	}
	limit := len(hay) - n + 1
	for i := 0; i < limit; i++ {
		if matchAt(hay, i, pattern) {
			return i
		}
	}
	return -1
}

// ScanSSE2 scans 16 bytes per chunk.
func ScanSSE2(hay, pattern []byte) int {
	return vectorScan(hay, pattern, 16, kernel16)
}

// ScanAVX2 scans 32 bytes per chunk.
func ScanAVX2(hay, pattern []byte) int {
	return vectorScan(hay, pattern, 32, kernel32)
}

// For returns the scanner of tier t.
func For(t Tier) Func {
	switch t {
	case SSE2:
		return ScanSSE2
	case AVX2:
		return ScanAVX2
	}
	return ScanScalar
}

// InRange runs fn over the whole view and returns the matching address.
func InRange(fn Func, v *memview.View, pattern []byte) (uintptr, bool) {
	i := fn(v.Bytes(), pattern)
	if i < 0 {
		return 0, false
	}
	return v.Base() + uintptr(i), true
}

// matchAt is a plain loop: the baseline must not depend on vector
// instructions, and bytes.Equal does.
func matchAt(hay []byte, i int, pattern []byte) bool {
	for j, b := range pattern {
		if hay[i+j] != b {
			return false
		}
	}
	return true
}

func vectorScan(hay, pattern []byte, width int, k kernel) int {
	n := len(pattern)
	if n == 0 || len(hay) < n {
		return -1
	}
	limit := len(hay) - n + 1
	chunkEnd := limit &^ (width - 1)
	first := pattern[0]

	for pos := 0; pos < chunkEnd; pos += width {
		off, mask := k(hay[pos:chunkEnd], first)
		if mask == 0 {
			break
		}
		pos += off
		for mask != 0 {
			cand := pos + bits.TrailingZeros32(mask)
			if matchAt(hay, cand, pattern) {
				return cand
			}
			mask &= mask - 1
		}
	}

	for i := chunkEnd; i < limit; i++ {
		if hay[i] == first && matchAt(hay, i, pattern) {
			return i
		}
	}
	return -1
}

// Probe runs tier t against a scratch buffer and compares the result with
// the baseline. It is the runtime self-check made before trusting a detected
// capability.
func Probe(t Tier) bool {
	scratch := make([]byte, 160)
	for i := range scratch {
		scratch[i] = byte(i * 7)
	}
	pattern := []byte{0xF3, 0x0F, 0x59, 0xF6}
	// a decoy first byte in every chunk, the real match straddling a chunk edge
	for i := 0; i < len(scratch); i += 16 {
		scratch[i+3] = pattern[0]
	}
	copy(scratch[93:], pattern)

	want := ScanScalar(scratch, pattern)
	return want == 93 && For(t)(scratch, pattern) == want
}

// swar16 and swar32 are the portable kernels. They are always compiled so
// the vector algorithm can be tested on any machine.
func swar16(p []byte, b byte) (int, uint32) { return swarKernel(p, b, 16) }

func swar32(p []byte, b byte) (int, uint32) { return swarKernel(p, b, 32) }

const (
	lo7 = 0x7f7f7f7f7f7f7f7f
	hi1 = 0x8080808080808080
)

func swarKernel(p []byte, b byte, width int) (int, uint32) {
	bcast := uint64(b) * 0x0101010101010101
	for off := 0; off+width <= len(p); off += width {
		var mask uint32
		for w := 0; w < width; w += 8 {
			x := load64(p, off+w) ^ bcast
			// the high bit of a byte of t is clear iff that byte of x is zero
			t := ((x & lo7) + lo7) | x
			z := ^t & hi1
			for z != 0 {
				mask |= 1 << uint(w+bits.TrailingZeros64(z)>>3)
				z &= z - 1
			}
		}
		if mask != 0 {
			return off, mask
		}
	}
	return len(p), 0
}

func load64(p []byte, i int) uint64 {
	_ = p[i+7]
	return uint64(p[i]) | uint64(p[i+1])<<8 | uint64(p[i+2])<<16 | uint64(p[i+3])<<24 |
		uint64(p[i+4])<<32 | uint64(p[i+5])<<40 | uint64(p[i+6])<<48 | uint64(p[i+7])<<56
}
