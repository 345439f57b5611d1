// Package cpufeat detects the SIMD tiers usable by the pattern scanner.
//
// The wide tier needs two independent confirmations: the CPU must advertise
// AVX and the OS must have enabled the YMM state save area (XCR0 bits 1 and
// 2). Executing 256-bit instructions without the latter corrupts registers on
// context switch, so AVX2 is only probed once both pass.
package cpufeat

import (
	"fmt"
	"strings"

	"golang.org/x/sys/cpu"
)

const (
	leaf1EDXSSE2    = 1 << 26
	leaf1ECXOSXSAVE = 1 << 27
	leaf1ECXAVX     = 1 << 28
	leaf7EBXAVX2    = 1 << 5

	xcr0SSEState = 1 << 1
	xcr0AVXState = 1 << 2
)

// Capabilities is the capability descriptor. It is computed once and passed
// by value.
type Capabilities struct {
	SSE2    bool
	OSXSAVE bool
	AVX     bool
	// OSAVX is set when XCR0 shows the OS saves XMM and YMM state.
	OSAVX bool
	AVX2  bool
}

// Querier executes the identification instructions. The host implementation
// is assembly on amd64; tests supply canned register values.
type Querier interface {
	CPUID(leaf, sub uint32) (eax, ebx, ecx, edx uint32)
	XGETBV() (eax, edx uint32)
}

// DetectWith builds the descriptor from q. Absence of a feature is not an
// error.
func DetectWith(q Querier) Capabilities {
	var c Capabilities
	maxLeaf, _, _, _ := q.CPUID(0, 0)
	if maxLeaf < 1 {
		return c
	}

	_, _, ecx1, edx1 := q.CPUID(1, 0)
	c.SSE2 = edx1&leaf1EDXSSE2 != 0
	c.OSXSAVE = ecx1&leaf1ECXOSXSAVE != 0
	c.AVX = ecx1&leaf1ECXAVX != 0

	if c.OSXSAVE && c.AVX {
		lo, _ := q.XGETBV()
		c.OSAVX = lo&(xcr0SSEState|xcr0AVXState) == xcr0SSEState|xcr0AVXState
	}

	if maxLeaf >= 7 && c.OSAVX {
		_, ebx7, _, _ := q.CPUID(7, 0)
		c.AVX2 = ebx7&leaf7EBXAVX2 != 0
	}
	return c
}

// Detect queries the host CPU. On architectures without CPUID every flag is
// false and only the scalar tier is used.
func Detect() Capabilities {
	if !hasCPUID {
		return Capabilities{}
	}
	return DetectWith(hostQuerier{})
}

// CrossCheck compares c with golang.org/x/sys/cpu and returns one line per
// disagreement. A disagreement usually means a hypervisor masks CPUID leaves
// inconsistently.
func CrossCheck(c Capabilities) []string {
	if !hasCPUID {
		return nil
	}
	var out []string
	check := func(name string, ours, theirs bool) {
		if ours != theirs {
			out = append(out, fmt.Sprintf("%s: cpuid=%t x/sys/cpu=%t", name, ours, theirs))
		}
	}
	check("sse2", c.SSE2, cpu.X86.HasSSE2)
	check("osxsave", c.OSXSAVE, cpu.X86.HasOSXSAVE)
	check("avx", c.AVX && c.OSAVX, cpu.X86.HasAVX)
	check("avx2", c.AVX2, cpu.X86.HasAVX2)
	return out
}

func (c Capabilities) String() string {
	var parts []string
	if c.AVX2 {
		parts = append(parts, "avx2")
	}
	if c.AVX {
		if c.OSAVX {
			parts = append(parts, "avx")
		} else {
			parts = append(parts, "avx(no-os-state)")
		}
	}
	if c.SSE2 {
		parts = append(parts, "sse2")
	}
	if len(parts) == 0 {
		return "scalar"
	}
	return strings.Join(parts, ",")
}
