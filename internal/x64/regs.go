// Package x64 emits the small subset of x86-64 machine code needed to build
// trampolines and hook bodies. Everything here is a pure function of its
// inputs; nothing is executed or written to live memory.
package x64

import "fmt"

// Reg is a general purpose register, numbered by its hardware encoding.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

var reg8Names = [...]string{
	"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
	"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// Name8 is the name of the low byte of r.
func (r Reg) Name8() string {
	if int(r) < len(reg8Names) {
		return reg8Names[r]
	}
	return fmt.Sprintf("reg8(%d)", uint8(r))
}

// ParseReg accepts the 64-bit register names.
func ParseReg(s string) (Reg, error) {
	for i, n := range regNames {
		if n == s {
			return Reg(i), nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", s)
}

func (r Reg) low() byte { return byte(r) & 7 }

func (r Reg) ext() bool { return r >= R8 }

// ABI describes the parts of a calling convention the generated code has to
// respect.
type ABI struct {
	Name string
	// IntArgs are the integer argument registers in order.
	IntArgs []Reg
	// Volatile are the caller-saved general purpose registers.
	Volatile []Reg
	// ShadowSpace is the stack area the caller reserves for the callee.
	ShadowSpace int
	// VolatileXMM is the number of caller-saved XMM registers, xmm0 upwards.
	VolatileXMM int
	// RedZone is the area below rsp a leaf function may use without
	// adjusting rsp.
	RedZone int
}

var (
	// Win64 is the Microsoft x64 convention.
	Win64 = ABI{
		Name:        "win64",
		IntArgs:     []Reg{RCX, RDX, R8, R9},
		Volatile:    []Reg{RAX, RCX, RDX, R8, R9, R10, R11},
		ShadowSpace: 32,
		VolatileXMM: 6,
	}
	// SysV is the System V AMD64 convention.
	SysV = ABI{
		Name:        "sysv",
		IntArgs:     []Reg{RDI, RSI, RDX, RCX, R8, R9},
		Volatile:    []Reg{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11},
		VolatileXMM: 16,
		RedZone:     128,
	}
)

// ParseABI accepts "win64" and "sysv".
func ParseABI(s string) (ABI, error) {
	switch s {
	case Win64.Name, "windows", "ms":
		return Win64, nil
	case SysV.Name, "systemv", "linux":
		return SysV, nil
	}
	return ABI{}, fmt.Errorf("unknown calling convention %q", s)
}

func (a ABI) IsVolatile(r Reg) bool { return contains(a.Volatile, r) }

func (a ABI) IsArg(r Reg) bool { return contains(a.IntArgs, r) }

func contains(rs []Reg, r Reg) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}
