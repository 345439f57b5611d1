package sighook

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/k2io/sighook/internal/scan"
)

var errProbeFailed = errors.New("self-check disagreed with scalar scan")

// Attempt is one tier's try at finding the signature.
type Attempt struct {
	Tier    Tier
	Found   bool
	Elapsed time.Duration
	// Err is a *FaultError, a probe failure, or nil for a clean miss.
	Err error
}

// LocateResult is the outcome of Locate.
type LocateResult struct {
	Address uintptr
	Found   bool
	// Tier is the tier that produced the result.
	Tier     Tier
	Elapsed  time.Duration
	Attempts []Attempt
	// Err is nil when Found, otherwise wraps ErrNotFound or ErrHardwareFault.
	Err error
}

// Offset is Address relative to the start of the scanned view.
func (r LocateResult) Offset(v *View) uintptr {
	if !r.Found {
		return 0
	}
	return r.Address - v.Base()
}

// Locator runs the scan tiers widest first and falls back on faults and
// misses.
type Locator struct {
	caps      Capabilities
	log       zerolog.Logger
	scanners  map[Tier]ScanFunc
	overrides map[Tier]bool
	probe     bool
	maxTier   Tier
}

type LocatorOption func(*Locator)

func WithLogger(l zerolog.Logger) LocatorOption {
	return func(lc *Locator) { lc.log = l }
}

// WithScanner replaces the implementation of tier t. Replaced tiers are not
// probed.
func WithScanner(t Tier, fn ScanFunc) LocatorOption {
	return func(lc *Locator) {
		lc.scanners[t] = fn
		lc.overrides[t] = true
	}
}

// WithProbe turns the runtime self-check of vector tiers on or off.
func WithProbe(on bool) LocatorOption {
	return func(lc *Locator) { lc.probe = on }
}

// WithForcedTier caps the widest tier tried, whatever the CPU supports.
func WithForcedTier(t Tier) LocatorOption {
	return func(lc *Locator) { lc.maxTier = t }
}

func NewLocator(caps Capabilities, opts ...LocatorOption) *Locator {
	lc := &Locator{
		caps:      caps,
		log:       zerolog.Nop(),
		scanners:  make(map[Tier]ScanFunc, len(scan.Tiers)),
		overrides: make(map[Tier]bool),
		probe:     true,
		maxTier:   TierAVX2,
	}
	for _, t := range scan.Tiers {
		lc.scanners[t] = scan.For(t)
	}
	for _, o := range opts {
		o(lc)
	}
	lc.log = lc.log.With().Str("component", "locator").Logger()
	return lc
}

// Plan returns the tiers Locate will try, widest first. Scalar is always
// last.
func (lc *Locator) Plan() []Tier {
	var out []Tier
	for _, t := range scan.Tiers {
		if t > lc.maxTier {
			continue
		}
		switch t {
		case TierAVX2:
			if !lc.caps.AVX2 {
				continue
			}
		case TierSSE2:
			if !lc.caps.SSE2 {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// Locate returns the leftmost address in v where sig occurs.
func (lc *Locator) Locate(v *View, sig Signature) LocateResult {
	start := time.Now()
	pattern := sig.pattern()
	plan := lc.Plan()

	lc.log.Info().
		Str("base", hexAddr(v.Base())).
		Str("range_end", hexAddr(v.End())).
		Int("size_mb", v.Len()>>20).
		Int("pattern_len", len(pattern)).
		Str("pattern", sig.String()).
		Str("cpu", lc.caps.String()).
		Str("widest_tier", plan[0].String()).
		Msg("scanning for signature")

	res := LocateResult{Tier: TierScalar}
	for i, t := range plan {
		baseline := i == len(plan)-1
		att := lc.attempt(t, v.Bytes(), pattern)
		if att.idx >= 0 && att.Err == nil {
			att.Found = true
		}
		res.Attempts = append(res.Attempts, att.Attempt)
		res.Tier = t

		if att.Found {
			res.Found = true
			res.Address = v.Base() + uintptr(att.idx)
			break
		}
		if baseline {
			if att.Err != nil {
				res.Err = att.Err
				lc.log.Error().Err(att.Err).Str("tier", t.String()).Msg("baseline scan faulted, aborting")
			} else {
				res.Err = fmt.Errorf("%w: %s in %s", ErrNotFound, sig.Name(), v)
			}
			break
		}

		ev := lc.log.Warn().Str("tier", t.String()).Str("next_tier", plan[i+1].String())
		switch {
		case att.Err != nil:
			ev.Err(att.Err).Msg("scan tier disabled after fault")
		default:
			ev.Msg("scan completed without a match, trying narrower tier")
		}
	}
	res.Elapsed = time.Since(start)

	if res.Found {
		lc.log.Info().
			Str("address", hexAddr(res.Address)).
			Str("offset", hexAddr(res.Offset(v))).
			Str("tier", res.Tier.String()).
			Float64("elapsed_ms", ms(res.Elapsed)).
			Msg("signature found")
	} else {
		lc.log.Error().
			Err(res.Err).
			Float64("elapsed_ms", ms(res.Elapsed)).
			Msg("signature not found; host version unsupported or binary modified")
	}
	return res
}

type attemptResult struct {
	Attempt
	idx int
}

// attempt runs one tier with memory faults turned into panics and recovered.
// An illegal instruction is not recoverable this way, which is why the vector
// tiers are gated on detection and the probe first.
func (lc *Locator) attempt(t Tier, hay, pattern []byte) (out attemptResult) {
	out.Tier = t
	out.idx = -1
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Err = &FaultError{Tier: t, Value: r}
			out.idx = -1
		}
		out.Elapsed = time.Since(start)
	}()
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)

	if t != TierScalar && lc.probe && !lc.overrides[t] && !scan.Probe(t) {
		out.Err = fmt.Errorf("%s: %w", t, errProbeFailed)
		return out
	}
	out.idx = lc.scanners[t](hay, pattern)
	return out
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func hexAddr(a uintptr) string { return fmt.Sprintf("%#x", a) }

func hexByte(b byte) string { return fmt.Sprintf("0x%02X", b) }
