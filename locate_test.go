package sighook

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/sighook/internal/memview"
	"github.com/k2io/sighook/internal/scan"
)

func faulting(hay, pattern []byte) int {
	var p *[4]byte
	return int(p[0])
}

func TestLocator_Plan(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		opts []LocatorOption
		want []Tier
	}{
		{"all", allTiers, nil, []Tier{TierAVX2, TierSSE2, TierScalar}},
		{"sse2 only", Capabilities{SSE2: true}, nil, []Tier{TierSSE2, TierScalar}},
		{"none", Capabilities{}, nil, []Tier{TierScalar}},
		{"forced sse2", allTiers, []LocatorOption{WithForcedTier(TierSSE2)}, []Tier{TierSSE2, TierScalar}},
		{"forced scalar", allTiers, []LocatorOption{WithForcedTier(TierScalar)}, []Tier{TierScalar}},
		// avx2 without sse2 never happens on real hardware but must not break the chain
		{"avx2 only", Capabilities{AVX2: true}, nil, []Tier{TierAVX2, TierScalar}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewLocator(tt.caps, tt.opts...).Plan())
		})
	}
}

func TestLocator_FindsAtKnownOffset(t *testing.T) {
	mem := host(1<<20, 4096)
	v := memview.New(0x140000000, mem)

	for _, caps := range []Capabilities{allTiers, {SSE2: true}, {}} {
		lc := NewLocator(caps, WithProbe(false), withPortableScanners())
		res := lc.Locate(v, ReferenceSignature)
		require.True(t, res.Found, caps.String())
		assert.NoError(t, res.Err)
		assert.Equal(t, v.Base()+4096, res.Address)
		assert.Equal(t, uintptr(4096), res.Offset(v))
		assert.Equal(t, lc.Plan()[0], res.Tier)
		assert.Len(t, res.Attempts, 1)
	}
}

func TestLocator_DegradesAfterFault(t *testing.T) {
	mem := host(64<<10, 4096)
	v := memview.New(0x140000000, mem)

	var buf bytes.Buffer
	lc := NewLocator(allTiers,
		WithLogger(testLogger(&buf)),
		WithScanner(TierAVX2, faulting),
		WithScanner(TierSSE2, scan.ScanScalar),
	)
	res := lc.Locate(v, ReferenceSignature)

	require.True(t, res.Found)
	assert.Equal(t, v.Base()+4096, res.Address)
	assert.Equal(t, TierSSE2, res.Tier)
	require.Len(t, res.Attempts, 2)

	var fe *FaultError
	require.ErrorAs(t, res.Attempts[0].Err, &fe)
	assert.Equal(t, TierAVX2, fe.Tier)
	assert.ErrorIs(t, res.Attempts[0].Err, ErrHardwareFault)
	assert.False(t, res.Attempts[0].Found)
	assert.True(t, res.Attempts[1].Found)

	recs := logRecords(t, &buf)
	rec, ok := findRecord(recs, "scan tier disabled after fault")
	require.True(t, ok)
	assert.Equal(t, "AVX2", rec["tier"])
	assert.Equal(t, "SSE2", rec["next_tier"])
	assert.Equal(t, "locator", rec["component"])

	rec, ok = findRecord(recs, "signature found")
	require.True(t, ok)
	assert.Equal(t, "SSE2", rec["tier"])
	assert.Equal(t, "0x1000", rec["offset"])
}

func TestLocator_DegradesAfterMiss(t *testing.T) {
	v := memview.New(0x1000, host(8192, 100))
	miss := func(hay, pattern []byte) int { return -1 }
	lc := NewLocator(allTiers, WithScanner(TierAVX2, miss), WithScanner(TierSSE2, miss))

	res := lc.Locate(v, ReferenceSignature)
	require.True(t, res.Found)
	assert.Equal(t, TierScalar, res.Tier)
	assert.Len(t, res.Attempts, 3)
	for _, a := range res.Attempts[:2] {
		assert.NoError(t, a.Err)
		assert.False(t, a.Found)
	}
}

func TestLocator_BaselineFaultIsTerminal(t *testing.T) {
	v := memview.New(0x1000, host(8192, 100))
	var buf bytes.Buffer
	lc := NewLocator(Capabilities{}, WithLogger(testLogger(&buf)), WithScanner(TierScalar, faulting))

	res := lc.Locate(v, ReferenceSignature)
	assert.False(t, res.Found)
	assert.ErrorIs(t, res.Err, ErrHardwareFault)
	assert.NotErrorIs(t, res.Err, ErrNotFound)
	_, ok := findRecord(logRecords(t, &buf), "baseline scan faulted, aborting")
	assert.True(t, ok)
}

func TestLocator_NotFound(t *testing.T) {
	v := memview.New(0x1000, bytes.Repeat([]byte{0xF3}, 4096))
	var buf bytes.Buffer
	lc := NewLocator(allTiers, WithProbe(false), withPortableScanners(), WithLogger(testLogger(&buf)))

	res := lc.Locate(v, ReferenceSignature)
	assert.False(t, res.Found)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Len(t, res.Attempts, 3)
	assert.Zero(t, res.Offset(v))

	rec, ok := findRecord(logRecords(t, &buf), "signature not found; host version unsupported or binary modified")
	require.True(t, ok)
	assert.Equal(t, "error", rec["level"])
}

func TestLocator_WindowSmallerThanSignature(t *testing.T) {
	v := memview.New(0x1000, ReferenceSignature.Bytes()[:17])
	res := NewLocator(allTiers, withPortableScanners()).Locate(v, ReferenceSignature)
	assert.False(t, res.Found)
	assert.ErrorIs(t, res.Err, ErrNotFound)
}

func TestLocator_Leftmost(t *testing.T) {
	mem := host(4096, 3000)
	copy(mem[1000:], ReferenceSignature.Bytes())
	copy(mem[77:], ReferenceSignature.Bytes())
	v := memview.New(0x1000, mem)
	res := NewLocator(allTiers, withPortableScanners(), WithLogger(zerolog.Nop())).Locate(v, ReferenceSignature)
	require.True(t, res.Found)
	assert.Equal(t, uintptr(0x1000+77), res.Address)
}

// withPortableScanners keeps the vector tiers runnable on machines without
// them: the scalar scanner stands in, which agrees with every tier.
func withPortableScanners() LocatorOption {
	return func(lc *Locator) {
		caps := detected()
		if !caps.AVX2 {
			lc.scanners[TierAVX2] = scan.ScanScalar
			lc.overrides[TierAVX2] = true
		}
		if !caps.SSE2 {
			lc.scanners[TierSSE2] = scan.ScanScalar
			lc.overrides[TierSSE2] = true
		}
	}
}
