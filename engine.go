package sighook

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/k2io/sighook/internal/cpufeat"
	"github.com/k2io/sighook/internal/memview"
	"github.com/k2io/sighook/internal/x64"
)

const (
	// DefaultScanOffset skips the image headers.
	DefaultScanOffset = 0x1000
	// DefaultScanSize covers the code of the reference host.
	DefaultScanSize = 0x01000000
)

// Config is everything the engine needs to find and hook one signature.
type Config struct {
	// ScanOffset and ScanSize place the window relative to the module base.
	ScanOffset uintptr
	ScanSize   uintptr
	Signature  Signature
	BufferSize int
	ABI        ABI
	Scratch    Reg
	// ForceTier caps the widest scan tier.
	ForceTier Tier
	Probe     bool
	// Actor, Result and Fixups describe the host registers at the hook point.
	Actor  Reg
	Result Reg
	Fixups []Fixup
}

func DefaultConfig() Config {
	return Config{
		ScanOffset: DefaultScanOffset,
		ScanSize:   DefaultScanSize,
		Signature:  ReferenceSignature,
		BufferSize: DefaultBufferSize,
		ABI:        NativeABI(),
		Scratch:    x64.DefaultScratch,
		ForceTier:  TierAVX2,
		Probe:      true,
		Actor:      DefaultActorReg,
		Result:     DefaultResultReg,
		Fixups:     []Fixup{{Reg: x64.RAX, Value: 1}},
	}
}

// Validate rejects configurations that could not produce a safe hook.
func (c Config) Validate() error {
	if c.Signature.IsZero() {
		return errors.New("config: empty signature")
	}
	if c.Signature.Len() < x64.TrampolineLen {
		return fmt.Errorf("config: signature is %d bytes, trampoline needs %d: %w",
			c.Signature.Len(), x64.TrampolineLen, ErrShortRegion)
	}
	if _, err := c.Signature.Instructions(); errors.Is(err, ErrSplitInstruction) {
		return fmt.Errorf("config: %w", err)
	}
	if c.ScanSize == 0 {
		return errors.New("config: scan size is zero")
	}
	if c.BufferSize < 16 || c.BufferSize > 1<<16 {
		return fmt.Errorf("config: buffer size %d outside [16, 65536]", c.BufferSize)
	}
	if _, err := x64.Trampoline(0, c.Scratch, c.ABI); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	body := x64.DecisionBody{ABI: c.ABI, Actor: c.Actor, Result: c.Result, Fixups: c.Fixups}
	if err := body.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ForceTier < TierScalar || c.ForceTier > TierAVX2 {
		return fmt.Errorf("config: unknown tier %d", c.ForceTier)
	}
	return nil
}

// Status is the outcome of Activate. A failed activation leaves the host
// untouched and the caller free to carry on without the feature.
type Status struct {
	Active  bool
	Address uintptr
	Tier    Tier
	Hook    *Hook
	Elapsed time.Duration
	Reason  string
	Err     error
}

// Engine ties locate, verify and install together.
type Engine struct {
	cfg       Config
	caps      Capabilities
	log       zerolog.Logger
	mem       Memory
	scanners  map[Tier]ScanFunc
	locator   *Locator
	installer *Installer
}

type EngineOption func(*Engine)

func WithEngineLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithEngineMemory(m Memory) EngineOption {
	return func(e *Engine) { e.mem = m }
}

// WithCapabilities replaces CPU detection.
func WithCapabilities(c Capabilities) EngineOption {
	return func(e *Engine) { e.caps = c }
}

func WithEngineScanner(t Tier, fn ScanFunc) EngineOption {
	return func(e *Engine) { e.scanners[t] = fn }
}

func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		caps:     cpufeat.Detect(),
		log:      zerolog.Nop(),
		mem:      HostMemory(),
		scanners: make(map[Tier]ScanFunc),
	}
	for _, o := range opts {
		o(e)
	}

	lopts := []LocatorOption{WithLogger(e.log), WithProbe(cfg.Probe), WithForcedTier(cfg.ForceTier)}
	for t, fn := range e.scanners {
		lopts = append(lopts, WithScanner(t, fn))
	}
	e.locator = NewLocator(e.caps, lopts...)
	e.installer = NewInstaller(
		WithMemory(e.mem),
		WithInstallerLogger(e.log),
		WithABI(cfg.ABI),
		WithScratch(cfg.Scratch),
		WithBufferSize(cfg.BufferSize),
	)
	e.log = e.log.With().Str("component", "engine").Logger()

	ev := e.log.Info().Str("cpu", e.caps.String()).Str("abi", cfg.ABI.Name)
	if diff := cpufeat.CrossCheck(e.caps); len(diff) > 0 {
		ev = ev.Strs("cpuid_disagreements", diff)
	}
	ev.Msg("engine ready")
	return e, nil
}

func (e *Engine) Capabilities() Capabilities { return e.caps }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Locator() *Locator { return e.locator }

func (e *Engine) Installer() *Installer { return e.installer }

// Window returns the scan window of the main executable, cut short where
// the mapped image ends.
func (e *Engine) Window() (*View, error) {
	base, err := ModuleBase()
	if err != nil {
		return nil, fmt.Errorf("module base: %w", err)
	}
	start := base + e.cfg.ScanOffset
	size := mappedLen(start, e.cfg.ScanSize)
	if size == 0 {
		return nil, fmt.Errorf("scan window %#x is not mapped", start)
	}
	if size < e.cfg.ScanSize {
		e.log.Debug().
			Str("start", hexAddr(start)).
			Uint64("requested", uint64(e.cfg.ScanSize)).
			Uint64("mapped", uint64(size)).
			Msg("scan window clamped to mapped image")
	}
	return memview.FromAddress(start, size), nil
}

// Locate finds the configured signature in v.
func (e *Engine) Locate(v *View) LocateResult {
	return e.locator.Locate(v, e.cfg.Signature)
}

// Activate finds the signature in v and hooks it to callback. It never
// panics.
func (e *Engine) Activate(v *View, callback uintptr) (st Status) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			st = Status{Reason: "internal error", Err: fmt.Errorf("activate: %v", r)}
		}
		st.Elapsed = time.Since(start)
		e.report(st)
	}()

	if callback == 0 {
		return Status{Reason: "no decision callback", Err: errors.New("nil callback")}
	}
	res := e.Locate(v)
	if !res.Found {
		return Status{Tier: res.Tier, Reason: "signature not found", Err: res.Err}
	}
	gen := &DecisionHook{
		Callback: callback,
		ABI:      e.cfg.ABI,
		Actor:    e.cfg.Actor,
		Result:   e.cfg.Result,
		Fixups:   e.cfg.Fixups,
	}
	h, err := e.installer.InstallHook(v, res.Address, e.cfg.Signature, gen)
	if err != nil {
		return Status{Address: res.Address, Tier: res.Tier, Reason: reason(err), Err: err}
	}
	return Status{Active: true, Address: res.Address, Tier: res.Tier, Hook: h}
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrIncompatibleBinary):
		return "binary incompatible"
	case errors.Is(err, ErrOversizedCode):
		return "hook code too large"
	case errors.Is(err, ErrProtectionChange):
		return "target not writable"
	case errors.Is(err, ErrDoubleHook):
		return "already hooked"
	}
	return "installation failed"
}

func (e *Engine) report(st Status) {
	if st.Active {
		e.log.Info().
			Str("address", hexAddr(st.Address)).
			Str("tier", st.Tier.String()).
			Float64("elapsed_ms", ms(st.Elapsed)).
			Msg("hook active")
		return
	}
	e.log.Error().
		Err(st.Err).
		Str("reason", st.Reason).
		Float64("elapsed_ms", ms(st.Elapsed)).
		Msg("hook not activated, feature disabled")
}
