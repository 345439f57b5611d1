package sighook

import (
	"runtime"

	"github.com/k2io/sighook/internal/x64"
)

// CodeGenerator produces the code a trampoline jumps to. The code has to end
// by transferring control to returnAddr.
type CodeGenerator interface {
	Generate(returnAddr uintptr) ([]byte, error)
}

// GeneratorFunc adapts a function to CodeGenerator.
type GeneratorFunc func(returnAddr uintptr) ([]byte, error)

func (f GeneratorFunc) Generate(returnAddr uintptr) ([]byte, error) { return f(returnAddr) }

// Registers of the reference host at the hook point.
const (
	DefaultActorReg  = x64.RDI
	DefaultResultReg = x64.RBP
)

// DecisionHook calls a decision callback with the actor held in Actor and
// leaves the answer, 0 or 1, in Result. Every other register except the
// Fixups targets comes back unchanged.
type DecisionHook struct {
	Callback uintptr
	ABI      ABI
	Actor    Reg
	Result   Reg
	// Fixups replay values the overwritten instructions left behind.
	Fixups []Fixup
}

// NewDecisionHook returns the hook for the reference signature: the actor
// arrives in rdi, the result goes to ebp, and eax is reset to the 1 the
// overwritten mov left in it.
func NewDecisionHook(callback uintptr) *DecisionHook {
	return &DecisionHook{
		Callback: callback,
		ABI:      NativeABI(),
		Actor:    DefaultActorReg,
		Result:   DefaultResultReg,
		Fixups:   []Fixup{{Reg: x64.RAX, Value: 1}},
	}
}

func (h *DecisionHook) Generate(returnAddr uintptr) ([]byte, error) {
	abi := h.ABI
	if abi.Name == "" {
		abi = NativeABI()
	}
	return x64.DecisionBody{
		ABI:      abi,
		Actor:    h.Actor,
		Result:   h.Result,
		Callback: h.Callback,
		Fixups:   h.Fixups,
	}.Encode(returnAddr)
}

// NativeABI is the convention callbacks created on this platform follow.
func NativeABI() ABI {
	if runtime.GOOS == "windows" {
		return x64.Win64
	}
	return x64.SysV
}

// ParseABI accepts "win64", "sysv", or "" and "native" for NativeABI.
func ParseABI(s string) (ABI, error) {
	if s == "" || s == "native" {
		return NativeABI(), nil
	}
	return x64.ParseABI(s)
}

// ParseReg accepts the 64-bit register names.
func ParseReg(s string) (Reg, error) { return x64.ParseReg(s) }
