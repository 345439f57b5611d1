// Copyright (C) 2022 K2 Cyber Security Inc.

package x64

import (
	"errors"
	"fmt"
)

// NopByte pads the part of an overwritten region the trampoline leaves over.
const NopByte = 0x90

// TrampolineLen is the size of the long jump through an extended register:
// mov r11, imm64 (10 bytes) followed by jmp r11 (3 bytes).
const TrampolineLen = 13

// DefaultScratch is volatile and carries no argument in either convention.
const DefaultScratch = R11

var (
	// ErrScratchRegister means the register survives calls or carries an argument.
	ErrScratchRegister = errors.New("scratch register is not a free volatile register")
	// ErrShortRegion means the region cannot hold the trampoline.
	ErrShortRegion = errors.New("region shorter than trampoline")
)

// Trampoline returns mov scratch, dest; jmp scratch.
//
// RAX looks like the natural choice but the host code after the hook may
// still depend on it, so the register must be one the convention treats as
// scratch and never uses to pass the live argument.
func Trampoline(dest uintptr, scratch Reg, abi ABI) ([]byte, error) {
	if !abi.IsVolatile(scratch) || abi.IsArg(scratch) || scratch == RAX {
		return nil, fmt.Errorf("%w: %s under %s", ErrScratchRegister, scratch, abi.Name)
	}
	var a Asm
	a.MovImm64(scratch, uint64(dest))
	a.JmpReg(scratch)
	return a.Bytes(), nil
}

// Patch returns the trampoline padded with no-ops to exactly length bytes, so
// the region disassembles cleanly on its own.
func Patch(dest uintptr, length int, scratch Reg, abi ABI) ([]byte, error) {
	tramp, err := Trampoline(dest, scratch, abi)
	if err != nil {
		return nil, err
	}
	if length < len(tramp) {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortRegion, length, len(tramp))
	}
	a := Asm{buf: make([]byte, 0, length)}
	a.Raw(tramp)
	a.Nop(length - len(tramp))
	return a.Bytes(), nil
}
