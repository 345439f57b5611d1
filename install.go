// Copyright (C) 2022 K2 Cyber Security Inc.

package sighook

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/k2io/sighook/internal/x64"
)

// DefaultBufferSize is the space reserved for a generated hook body.
const DefaultBufferSize = 256

// Installer writes trampolines into host code.
type Installer struct {
	mem      Memory
	log      zerolog.Logger
	abi      ABI
	scratch  Reg
	bufSize  int
	verifier *Verifier
}

type InstallerOption func(*Installer)

func WithMemory(m Memory) InstallerOption {
	return func(in *Installer) { in.mem = m }
}

func WithInstallerLogger(l zerolog.Logger) InstallerOption {
	return func(in *Installer) { in.log = l }
}

// WithABI sets the convention the scratch register is checked against.
func WithABI(abi ABI) InstallerOption {
	return func(in *Installer) { in.abi = abi }
}

// WithScratch sets the register the trampoline jumps through.
func WithScratch(r Reg) InstallerOption {
	return func(in *Installer) { in.scratch = r }
}

func WithBufferSize(n int) InstallerOption {
	return func(in *Installer) { in.bufSize = n }
}

func NewInstaller(opts ...InstallerOption) *Installer {
	in := &Installer{
		mem:     HostMemory(),
		log:     zerolog.Nop(),
		abi:     NativeABI(),
		scratch: x64.DefaultScratch,
		bufSize: DefaultBufferSize,
	}
	for _, o := range opts {
		o(in)
	}
	in.verifier = NewVerifier(in.log)
	in.log = in.log.With().Str("component", "installer").Logger()
	return in
}

// Install overwrites length bytes at target with a jump to hookCode, padded
// with no-ops.
func (in *Installer) Install(v *View, target uintptr, length int, hookCode uintptr) (*Hook, error) {
	if err := reserve(target); err != nil {
		return nil, err
	}
	h, err := in.install(v, target, length, hookCode)
	if err != nil {
		release(target)
		return nil, err
	}
	commit(h)
	return h, nil
}

func (in *Installer) install(v *View, target uintptr, length int, hookCode uintptr) (*Hook, error) {
	patch, err := x64.Patch(hookCode, length, in.scratch, in.abi)
	if err != nil {
		return nil, err
	}
	region, err := v.Slice(target, length)
	if err != nil {
		return nil, err
	}
	original := make([]byte, length)
	if _, err := v.ReadMemory(original, target); err != nil {
		return nil, err
	}

	log := in.log.With().Str("target", hexAddr(target)).Int("length", length).Logger()
	old, err := in.mem.Protection(region)
	if err != nil {
		log.Warn().Err(err).Msg("cannot query protection, will restore r-x")
		old = ProtRX
	}
	if err := in.mem.Protect(region, ProtRWX); err != nil {
		log.Error().Err(err).Msg("failed to make target writable")
		return nil, fmt.Errorf("%w at %#x: %w", ErrProtectionChange, target, err)
	}

	h := &Hook{
		Target:   target,
		Length:   length,
		Code:     hookCode,
		Original: original,
		Patch:    patch,
	}
	// same range as region, already checked
	_, _ = v.WriteMemory(target, patch)

	if err := in.mem.Protect(region, old); err != nil {
		// the bytes are in place whatever the page flags say
		h.RestoreErr = fmt.Errorf("%w to %s: %w", ErrProtectionRestore, old, err)
		log.Warn().Err(h.RestoreErr).Msg("failed to restore original protection")
	}
	if err := in.mem.FlushInstructionCache(region); err != nil {
		log.Warn().Err(err).Msg("instruction cache flush failed")
	}
	log.Info().
		Str("jump_to", hexAddr(hookCode)).
		Str("scratch", in.scratch.String()).
		Int("nop_pad", length-x64.TrampolineLen).
		Msg("long jump installed")
	return h, nil
}

// InstallHook verifies sig at target, generates the hook body returning to the
// first byte after sig, and installs the trampoline to it. Nothing in v is
// written unless every check passes.
func (in *Installer) InstallHook(v *View, target uintptr, sig Signature, gen CodeGenerator) (*Hook, error) {
	if err := in.verifier.Verify(v, target, sig); err != nil {
		return nil, err
	}
	if sig.Len() < x64.TrampolineLen {
		return nil, fmt.Errorf("%w: signature %d bytes, trampoline %d", ErrShortRegion, sig.Len(), x64.TrampolineLen)
	}
	if err := reserve(target); err != nil {
		return nil, err
	}
	h, err := in.installHook(v, target, sig, gen)
	if err != nil {
		release(target)
		return nil, err
	}
	commit(h)
	return h, nil
}

func (in *Installer) installHook(v *View, target uintptr, sig Signature, gen CodeGenerator) (*Hook, error) {
	ret := target + uintptr(sig.Len())
	body, err := gen.Generate(ret)
	if err != nil {
		return nil, fmt.Errorf("generate hook body: %w", err)
	}
	if len(body) > in.bufSize {
		in.log.Error().Int("size", len(body)).Int("buffer", in.bufSize).
			Msg("generated code exceeds buffer, aborting hook installation")
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrOversizedCode, len(body), in.bufSize)
	}
	in.log.Info().Int("size", len(body)).Int("buffer", in.bufSize).Str("return_to", hexAddr(ret)).
		Msg("hook code generated")

	buf, err := in.mem.AllocExec(in.bufSize)
	if err != nil {
		in.log.Error().Err(err).Int("size", in.bufSize).Msg("failed to allocate hook buffer")
		return nil, fmt.Errorf("allocate hook buffer: %w", err)
	}
	copy(buf, body)
	for i := len(body); i < len(buf); i++ {
		buf[i] = 0xCC
	}
	if err := in.mem.Protect(buf, ProtRX); err != nil {
		in.free(buf)
		return nil, fmt.Errorf("seal hook buffer: %w", err)
	}
	if err := in.mem.FlushInstructionCache(buf); err != nil {
		in.log.Warn().Err(err).Msg("instruction cache flush failed")
	}
	code := addrOf(buf)
	in.log.Info().Str("buffer", hexAddr(code)).Msg("hook buffer ready")

	h, err := in.install(v, target, sig.Len(), code)
	if err != nil {
		in.free(buf)
		return nil, err
	}
	return h, nil
}

// free releases a hook buffer that no trampoline points at.
func (in *Installer) free(buf []byte) {
	if err := in.mem.Free(buf); err != nil {
		in.log.Warn().Err(err).Str("buffer", hexAddr(addrOf(buf))).Msg("failed to free hook buffer")
	}
}
