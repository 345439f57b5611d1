package cpufeat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeQuerier struct {
	maxLeaf    uint32
	ecx1, edx1 uint32
	ebx7       uint32
	xcr0       uint32
	xgetbvUsed bool
	leaf7Used  bool
}

func (f *fakeQuerier) CPUID(leaf, _ uint32) (uint32, uint32, uint32, uint32) {
	switch leaf {
	case 0:
		return f.maxLeaf, 0, 0, 0
	case 1:
		return 0, 0, f.ecx1, f.edx1
	case 7:
		f.leaf7Used = true
		return 0, f.ebx7, 0, 0
	}
	return 0, 0, 0, 0
}

func (f *fakeQuerier) XGETBV() (uint32, uint32) {
	f.xgetbvUsed = true
	return f.xcr0, 0
}

func TestDetectWith(t *testing.T) {
	const (
		avxBits = leaf1ECXOSXSAVE | leaf1ECXAVX
		xcrFull = xcr0SSEState | xcr0AVXState
	)

	tests := []struct {
		name       string
		q          fakeQuerier
		want       Capabilities
		wantXGETBV bool
		wantLeaf7  bool
	}{
		{
			name: "no leaves",
			q:    fakeQuerier{maxLeaf: 0},
			want: Capabilities{},
		},
		{
			name: "sse2 only",
			q:    fakeQuerier{maxLeaf: 7, edx1: leaf1EDXSSE2, ebx7: leaf7EBXAVX2},
			want: Capabilities{SSE2: true},
		},
		{
			name:       "avx without os state",
			q:          fakeQuerier{maxLeaf: 7, edx1: leaf1EDXSSE2, ecx1: avxBits, xcr0: xcr0SSEState, ebx7: leaf7EBXAVX2},
			want:       Capabilities{SSE2: true, OSXSAVE: true, AVX: true},
			wantXGETBV: true,
		},
		{
			name: "avx without osxsave never reads xcr0",
			q:    fakeQuerier{maxLeaf: 7, edx1: leaf1EDXSSE2, ecx1: leaf1ECXAVX, xcr0: xcrFull, ebx7: leaf7EBXAVX2},
			want: Capabilities{SSE2: true, AVX: true},
		},
		{
			name:       "full avx2",
			q:          fakeQuerier{maxLeaf: 7, edx1: leaf1EDXSSE2, ecx1: avxBits, xcr0: xcrFull, ebx7: leaf7EBXAVX2},
			want:       Capabilities{SSE2: true, OSXSAVE: true, AVX: true, OSAVX: true, AVX2: true},
			wantXGETBV: true,
			wantLeaf7:  true,
		},
		{
			name:       "os state but cpu lacks avx2",
			q:          fakeQuerier{maxLeaf: 7, edx1: leaf1EDXSSE2, ecx1: avxBits, xcr0: xcrFull},
			want:       Capabilities{SSE2: true, OSXSAVE: true, AVX: true, OSAVX: true},
			wantXGETBV: true,
			wantLeaf7:  true,
		},
		{
			name:       "leaf 7 unavailable",
			q:          fakeQuerier{maxLeaf: 6, edx1: leaf1EDXSSE2, ecx1: avxBits, xcr0: xcrFull, ebx7: leaf7EBXAVX2},
			want:       Capabilities{SSE2: true, OSXSAVE: true, AVX: true, OSAVX: true},
			wantXGETBV: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.q
			got := DetectWith(&q)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantXGETBV, q.xgetbvUsed, "xgetbv")
			assert.Equal(t, tt.wantLeaf7, q.leaf7Used, "leaf 7")
		})
	}
}

func TestDetect_Deterministic(t *testing.T) {
	a := Detect()
	b := Detect()
	assert.Equal(t, a, b)
	if a.AVX2 {
		assert.True(t, a.OSAVX, "avx2 must imply os avx state support")
	}
}

func TestCapabilities_String(t *testing.T) {
	assert.Equal(t, "scalar", Capabilities{}.String())
	assert.Equal(t, "sse2", Capabilities{SSE2: true}.String())
	assert.Equal(t, "avx(no-os-state),sse2", Capabilities{SSE2: true, AVX: true}.String())
	assert.Equal(t, "avx2,avx,sse2", Capabilities{SSE2: true, AVX: true, OSAVX: true, AVX2: true}.String())
}
