package x64

import (
	"errors"
	"fmt"
)

// fxsaveArea is the size of the FXSAVE64 image.
const fxsaveArea = 512

// ErrBodyRegister means a register role of a DecisionBody conflicts with the
// registers the body itself uses.
var ErrBodyRegister = errors.New("invalid register assignment")

// Fixup loads a constant the overwritten instructions were known to leave in
// a register.
type Fixup struct {
	Reg   Reg
	Value uint32
}

// DecisionBody is the code a trampoline jumps to. It calls a C-ABI callback
// with the actor handle held in Actor and turns the boolean result into the
// low byte of Result, zero-extended. Every other register, the flags aside,
// reaches the return address with the value it had at the hook point.
//
// Layout:
//
//	xor    result32, result32
//	lea    rsp, [rsp-redzone]      ; sysv only
//	push   rbx
//	mov    rbx, rsp
//	and    rsp, -16
//	sub    rsp, 512                ; when the ABI has volatile xmm
//	fxsave64 [rsp]
//	push   <volatile gprs>
//	sub    rsp, pad+shadow
//	mov    arg0, actor
//	mov    rax, callback
//	call   rax
//	add    rsp, pad+shadow
//	test   al, al
//	pop    <volatile gprs>
//	fxrstor64 [rsp]
//	mov    rsp, rbx
//	pop    rbx
//	lea    rsp, [rsp+redzone]
//	setnz  result8
//	mov    fixup32, imm32 ...
//	jmp    [rip+0] ; dq returnAddr
type DecisionBody struct {
	ABI      ABI
	Actor    Reg
	Result   Reg
	Callback uintptr
	Fixups   []Fixup
}

// Validate checks the register roles. The callback address is only checked
// by Encode.
func (d DecisionBody) Validate() error {
	switch {
	case len(d.ABI.IntArgs) == 0:
		return fmt.Errorf("%w: abi %q has no argument registers", ErrBodyRegister, d.ABI.Name)
	case d.Actor == RSP || d.Actor == RBX:
		return fmt.Errorf("%w: actor in %s", ErrBodyRegister, d.Actor)
	case d.Result == RSP:
		return fmt.Errorf("%w: result in rsp", ErrBodyRegister)
	case d.Actor == d.Result:
		return fmt.Errorf("%w: actor and result share %s", ErrBodyRegister, d.Actor)
	}
	for _, f := range d.Fixups {
		if f.Reg == RSP {
			return fmt.Errorf("%w: fixup of rsp", ErrBodyRegister)
		}
		// fixups run after setnz
		if f.Reg == d.Result {
			return fmt.Errorf("%w: fixup of result register %s", ErrBodyRegister, d.Result)
		}
	}
	return nil
}

// Encode lays the body out for the given return address.
func (d DecisionBody) Encode(returnAddr uintptr) ([]byte, error) {
	if d.Callback == 0 {
		return nil, fmt.Errorf("%w: nil callback", ErrBodyRegister)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	abi := d.ABI
	var a Asm

	a.XorReg32(d.Result)
	if abi.RedZone > 0 {
		a.LeaRSP(-int32(abi.RedZone))
	}
	a.Push(RBX)
	a.MovReg(RBX, RSP)
	a.AlignRSP16()
	if abi.VolatileXMM > 0 {
		a.SubRSP(fxsaveArea)
		a.FXSave64()
	}
	for _, r := range abi.Volatile {
		a.Push(r)
	}
	frame := int32(abi.ShadowSpace)
	if len(abi.Volatile)%2 != 0 {
		frame += 8
	}
	if frame > 0 {
		a.SubRSP(frame)
	}

	if arg := abi.IntArgs[0]; arg != d.Actor {
		a.MovReg(arg, d.Actor)
	}
	a.MovImm64(RAX, uint64(d.Callback))
	a.CallReg(RAX)

	if frame > 0 {
		a.AddRSP(frame)
	}
	a.TestReg8(RAX, RAX)
	for i := len(abi.Volatile) - 1; i >= 0; i-- {
		a.Pop(abi.Volatile[i])
	}
	if abi.VolatileXMM > 0 {
		a.FXRstor64()
	}
	a.MovReg(RSP, RBX)
	a.Pop(RBX)
	if abi.RedZone > 0 {
		a.LeaRSP(int32(abi.RedZone))
	}

	a.SetNZ8(d.Result)
	for _, f := range d.Fixups {
		a.MovImm32(f.Reg, f.Value)
	}
	a.JmpAbs(uint64(returnAddr))
	return a.Bytes(), nil
}
