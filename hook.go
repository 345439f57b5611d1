// Copyright (C) 2022 K2 Cyber Security Inc.

// Package sighook finds a known instruction sequence in the running
// process's code and redirects it to generated code that consults a Go
// callback before resuming the host.
//
// The flow is locate, verify, install:
//
//	eng, _ := sighook.NewEngine(sighook.DefaultConfig())
//	win, _ := eng.Window()
//	cb, _ := sighook.NewDecisionCallback(allow)
//	status := eng.Activate(win, cb)
//
// Hooks are permanent for the life of the process.
package sighook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/k2io/sighook/internal/cpufeat"
	"github.com/k2io/sighook/internal/memview"
	"github.com/k2io/sighook/internal/scan"
	"github.com/k2io/sighook/internal/x64"
)

type (
	// View is a bounds-checked window over memory.
	View = memview.View
	// Capabilities describes the SIMD tiers the machine can run.
	Capabilities = cpufeat.Capabilities
	// Tier is a scanner implementation.
	Tier = scan.Tier
	// ScanFunc returns the index of the leftmost match of pattern in hay, or -1.
	ScanFunc = scan.Func
	// Reg is an x86-64 general purpose register.
	Reg = x64.Reg
	// ABI is a calling convention.
	ABI = x64.ABI
	// Fixup reloads a constant into a register after the callback returns.
	Fixup = x64.Fixup
)

const (
	TierScalar = scan.Scalar
	TierSSE2   = scan.SSE2
	TierAVX2   = scan.AVX2
)

// Hook is the record of an installed hook.
type Hook struct {
	// Target is the first overwritten byte.
	Target uintptr
	// Length is the number of bytes overwritten.
	Length int
	// Code is the address of the generated hook body.
	Code uintptr
	// Original holds the bytes the patch replaced.
	Original []byte
	// Patch holds the bytes written at Target.
	Patch []byte
	// RestoreErr wraps ErrProtectionRestore when the page protection could not
	// be put back. The hook is active regardless.
	RestoreErr error
}

func (h *Hook) String() string {
	return fmt.Sprintf("hook %#x+%d -> %#x", h.Target, h.Length, h.Code)
}

var (
	// hooks applied with target addresses as keys
	hooks map[uintptr]*Hook
	// protect the hooks map
	lock sync.Mutex
)

var (
	// ErrNotFound means the signature is not in the scanned range.
	ErrNotFound = errors.New("signature not found")
	// ErrHardwareFault means a scan raised a hardware exception.
	ErrHardwareFault = errors.New("hardware fault during scan")
	// ErrIncompatibleBinary means the bytes at the target are not the signature.
	ErrIncompatibleBinary = errors.New("incompatible binary")
	// ErrProtectionChange means the target could not be made writable.
	ErrProtectionChange = errors.New("cannot make target writable")
	// ErrProtectionRestore means the original protection could not be put back.
	ErrProtectionRestore = errors.New("cannot restore target protection")
	// ErrOversizedCode means the generated hook body does not fit its buffer.
	ErrOversizedCode = errors.New("generated code exceeds buffer")
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrShortRegion means the region cannot hold the trampoline.
	ErrShortRegion = x64.ErrShortRegion
	// ErrSplitInstruction means the signature does not end on an instruction
	// boundary, so resuming after it would land mid-instruction.
	ErrSplitInstruction = errors.New("signature ends inside an instruction")
	// ErrUnsupported means the platform lacks a facility the operation needs.
	ErrUnsupported = errors.New("unsupported on this platform")
)

func init() {
	hooks = make(map[uintptr]*Hook)
}

// FaultError is a hardware fault caught while a tier was scanning.
type FaultError struct {
	Tier  Tier
	Value any
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s scan faulted: %v", e.Tier, e.Value)
}

func (e *FaultError) Unwrap() error { return ErrHardwareFault }

// IncompatibleError lists where the bytes at Address differ from the
// signature.
type IncompatibleError struct {
	Address    uintptr
	Signature  string
	Mismatches []Mismatch
	// Unreadable is set when the address range is outside the view.
	Unreadable bool
}

func (e *IncompatibleError) Error() string {
	if e.Unreadable {
		return fmt.Sprintf("%s at %#x: range not readable", e.Signature, e.Address)
	}
	return fmt.Sprintf("%s at %#x: %d byte(s) differ", e.Signature, e.Address, len(e.Mismatches))
}

func (e *IncompatibleError) Unwrap() error { return ErrIncompatibleBinary }

// reserve claims target so concurrent installers cannot patch it twice.
func reserve(target uintptr) error {
	lock.Lock()
	defer lock.Unlock()
	if _, ok := hooks[target]; ok {
		return fmt.Errorf("%w at %#x", ErrDoubleHook, target)
	}
	hooks[target] = nil
	return nil
}

func commit(h *Hook) {
	lock.Lock()
	hooks[h.Target] = h
	lock.Unlock()
}

func release(target uintptr) {
	lock.Lock()
	delete(hooks, target)
	lock.Unlock()
}

// Lookup returns the hook installed at target.
func Lookup(target uintptr) (*Hook, bool) {
	lock.Lock()
	defer lock.Unlock()
	h, ok := hooks[target]
	return h, ok && h != nil
}

// Hooks returns the installed hooks ordered by target.
func Hooks() []*Hook {
	lock.Lock()
	out := make([]*Hook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	lock.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
