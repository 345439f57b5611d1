package scan

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/sighook/internal/cpufeat"
	"github.com/k2io/sighook/internal/memview"
)

var commentBytes = []byte{
	0xF3, 0x0F, 0x59, 0xF6,
	0x0F, 0xB6, 0xEB,
	0xB8, 0x01, 0x00, 0x00, 0x00,
	0x0F, 0x2F, 0xF0,
	0x0F, 0x43, 0xE8,
}

// scanners returns every implementation runnable on this machine: the
// portable kernels always, the assembly kernels when the CPU allows them.
func scanners(t *testing.T) map[string]Func {
	t.Helper()
	m := map[string]Func{
		"scalar": ScanScalar,
		"swar16": func(h, p []byte) int { return vectorScan(h, p, 16, swar16) },
		"swar32": func(h, p []byte) int { return vectorScan(h, p, 32, swar32) },
	}
	caps := cpufeat.Detect()
	if caps.SSE2 {
		m["sse2"] = ScanSSE2
	}
	if caps.AVX2 {
		m["avx2"] = ScanAVX2
	}
	return m
}

func TestScan_Basic(t *testing.T) {
	tests := []struct {
		hay, pattern string
		want         int
	}{
		{"", "a", -1},
		{"abc", "", -1},
		{"a", "a", 0},
		{"abc", "c", 2},
		{"abc", "abcd", -1},
		{"abcabc", "ca", 2},
		{"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxneedle", "needle", 36},
		{"needlexxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", "needle", 0},
		{string(bytes.Repeat([]byte{'n'}, 100)) + "needle", "needle", 100},
		{string(bytes.Repeat([]byte{'n'}, 100)), "needle", -1},
	}
	for name, fn := range scanners(t) {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/%d/%s", name, len(tt.hay), tt.pattern), func(t *testing.T) {
				assert.Equal(t, tt.want, fn([]byte(tt.hay), []byte(tt.pattern)))
			})
		}
	}
}

func TestScan_AllTiersAgreeAtEveryOffsetAndAlignment(t *testing.T) {
	fns := scanners(t)
	backing := make([]byte, 512+64)
	for align := 0; align < 33; align++ {
		for _, size := range []int{17, 18, 31, 32, 33, 63, 64, 65, 200, 511} {
			hay := backing[align : align+size]
			for i := range hay {
				hay[i] = 0xCC
			}
			for off := 0; off+len(commentBytes) <= size; off += 7 {
				for i := range hay {
					hay[i] = 0xCC
				}
				copy(hay[off:], commentBytes)
				for name, fn := range fns {
					got := fn(hay, commentBytes)
					if got != off {
						t.Fatalf("%s align=%d size=%d off=%d: got %d", name, align, size, off, got)
					}
				}
			}
		}
	}
}

func TestScan_Leftmost(t *testing.T) {
	hay := bytes.Repeat([]byte{0x90}, 300)
	for _, off := range []int{250, 33, 100} {
		copy(hay[off:], commentBytes)
	}
	for name, fn := range scanners(t) {
		assert.Equal(t, 33, fn(hay, commentBytes), name)
	}
}

func TestScan_DenseFirstByteCandidates(t *testing.T) {
	// every byte is a candidate; only the last window matches
	hay := bytes.Repeat([]byte{0xF3}, 257)
	copy(hay[257-len(commentBytes):], commentBytes)
	for name, fn := range scanners(t) {
		assert.Equal(t, 257-len(commentBytes), fn(hay, commentBytes), name)
	}
}

func TestScan_RangeShorterThanPatternDoesNotReadGuards(t *testing.T) {
	// the guards hold the rest of the pattern, so any read past the range
	// boundary would turn into a match
	for short := 0; short < len(commentBytes); short++ {
		guarded := make([]byte, 0, 64)
		guarded = append(guarded, commentBytes...)
		guarded = append(guarded, commentBytes[:short]...)
		guarded = append(guarded, commentBytes[short:]...)
		lo := len(commentBytes)
		hay := guarded[lo : lo+short : lo+short]
		for name, fn := range scanners(t) {
			assert.Equal(t, -1, fn(hay, commentBytes), "%s short=%d", name, short)
		}
	}
}

func TestScan_MatchStraddlingRangeEndIsNotReported(t *testing.T) {
	buf := bytes.Repeat([]byte{0x00}, 128)
	copy(buf[100:], commentBytes)
	for name, fn := range scanners(t) {
		assert.Equal(t, -1, fn(buf[:110], commentBytes), name)
		assert.Equal(t, 100, fn(buf[:118], commentBytes), name)
	}
}

func TestScan_RandomAgainstBytesIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	fns := scanners(t)
	for iter := 0; iter < 400; iter++ {
		hay := make([]byte, rng.Intn(300))
		for i := range hay {
			hay[i] = byte(rng.Intn(4))
		}
		pattern := make([]byte, 1+rng.Intn(6))
		for i := range pattern {
			pattern[i] = byte(rng.Intn(4))
		}
		want := bytes.Index(hay, pattern)
		if len(hay) < len(pattern) {
			want = -1
		}
		for name, fn := range fns {
			got := fn(hay, pattern)
			require.Equal(t, want, got, "%s iter=%d", name, iter)
			if got >= 0 {
				require.True(t, got+len(pattern) <= len(hay))
				require.Equal(t, pattern, hay[got:got+len(pattern)])
			}
		}
	}
}

func TestSWARKernel_MaskMatchesBytes(t *testing.T) {
	p := make([]byte, 64)
	for i := range p {
		p[i] = byte(i)
	}
	p[5], p[37], p[38] = 0x80, 0x80, 0x80

	off, mask := swar32(p, 0x80)
	assert.Equal(t, 0, off)
	assert.Equal(t, uint32(1<<5), mask)

	off, mask = swar16(p[16:], 0x80)
	assert.Equal(t, 16, off)
	assert.Equal(t, uint32(1<<5|1<<6), mask)

	off, mask = swar16(p, 0xFF)
	assert.Equal(t, 64, off)
	assert.Zero(t, mask)
}

func TestInRange(t *testing.T) {
	mem := make([]byte, 64)
	copy(mem[40:], commentBytes[:4])
	v := memview.New(0x140001000, mem)

	addr, ok := InRange(ScanScalar, v, commentBytes[:4])
	require.True(t, ok)
	assert.Equal(t, uintptr(0x140001000+40), addr)

	_, ok = InRange(ScanScalar, v, commentBytes)
	assert.False(t, ok)
}

func TestProbe(t *testing.T) {
	assert.True(t, Probe(Scalar))
	caps := cpufeat.Detect()
	if caps.SSE2 {
		assert.True(t, Probe(SSE2))
	}
	if caps.AVX2 {
		assert.True(t, Probe(AVX2))
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers {
		got, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	_, err := ParseTier("avx512")
	assert.Error(t, err)
	assert.Equal(t, 32, AVX2.Width())
	assert.Equal(t, 16, SSE2.Width())
	assert.Equal(t, 1, Scalar.Width())
}

func BenchmarkScan16MiB(b *testing.B) {
	hay := make([]byte, 16<<20)
	for i := range hay {
		hay[i] = byte(i % 251)
	}
	copy(hay[len(hay)-4096:], commentBytes)
	for _, tier := range Tiers {
		fn := For(tier)
		if tier == AVX2 && !cpufeat.Detect().AVX2 {
			continue
		}
		b.Run(tier.String(), func(b *testing.B) {
			b.SetBytes(int64(len(hay)))
			for i := 0; i < b.N; i++ {
				fn(hay, commentBytes)
			}
		})
	}
}
