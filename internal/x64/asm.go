package x64

import "encoding/binary"

const (
	rexW = 0x48
	rexR = 0x04
	rexB = 0x01
	rex  = 0x40
)

// Asm accumulates encoded instructions.
type Asm struct {
	buf []byte
}

func (a *Asm) Bytes() []byte { return a.buf }

func (a *Asm) Len() int { return len(a.buf) }

func (a *Asm) emit(b ...byte) { a.buf = append(a.buf, b...) }

func (a *Asm) imm32(v uint32) { a.buf = binary.LittleEndian.AppendUint32(a.buf, v) }

func (a *Asm) imm64(v uint64) { a.buf = binary.LittleEndian.AppendUint64(a.buf, v) }

// Raw appends pre-encoded bytes.
func (a *Asm) Raw(b []byte) { a.emit(b...) }

func (a *Asm) Push(r Reg) {
	if r.ext() {
		a.emit(rex | rexB)
	}
	a.emit(0x50 + r.low())
}

func (a *Asm) Pop(r Reg) {
	if r.ext() {
		a.emit(rex | rexB)
	}
	a.emit(0x58 + r.low())
}

// MovImm64 is mov r64, imm64.
func (a *Asm) MovImm64(r Reg, v uint64) {
	p := byte(rexW)
	if r.ext() {
		p |= rexB
	}
	a.emit(p, 0xB8+r.low())
	a.imm64(v)
}

// MovImm32 is mov r32, imm32, which zero-extends into the full register.
func (a *Asm) MovImm32(r Reg, v uint32) {
	if r.ext() {
		a.emit(rex | rexB)
	}
	a.emit(0xB8 + r.low())
	a.imm32(v)
}

// MovReg is mov dst, src on 64-bit registers.
func (a *Asm) MovReg(dst, src Reg) {
	p := byte(rexW)
	if src.ext() {
		p |= rexR
	}
	if dst.ext() {
		p |= rexB
	}
	a.emit(p, 0x89, modrmReg(src, dst))
}

// XorReg32 is xor r32, r32: zeroes r and clobbers the flags.
func (a *Asm) XorReg32(r Reg) {
	if r.ext() {
		a.emit(rex | rexR | rexB)
	}
	a.emit(0x31, modrmReg(r, r))
}

func (a *Asm) CallReg(r Reg) {
	if r.ext() {
		a.emit(rex | rexB)
	}
	a.emit(0xFF, 0xD0|r.low())
}

func (a *Asm) JmpReg(r Reg) {
	if r.ext() {
		a.emit(rex | rexB)
	}
	a.emit(0xFF, 0xE0|r.low())
}

// JmpAbs is jmp qword ptr [rip+0] followed by the 8-byte target. It touches
// neither registers nor the stack.
func (a *Asm) JmpAbs(target uint64) {
	a.emit(0xFF, 0x25, 0, 0, 0, 0)
	a.imm64(target)
}

// TestReg8 is test r8, r8 on the low bytes of x and y.
func (a *Asm) TestReg8(x, y Reg) {
	a.rex8(y, x)
	a.emit(0x84, modrmReg(y, x))
}

// SetNZ8 sets the low byte of r to 1 if ZF is clear.
func (a *Asm) SetNZ8(r Reg) {
	a.rex8(0, r)
	a.emit(0x0F, 0x95, 0xC0|r.low())
}

// rex8 emits the REX prefix an 8-bit operation on reg/rm needs. spl, bpl,
// sil and dil are only reachable with a REX prefix present.
func (a *Asm) rex8(reg, rm Reg) {
	p := byte(0)
	if reg.ext() {
		p |= rexR
	}
	if rm.ext() {
		p |= rexB
	}
	if p != 0 || (reg >= RSP && reg <= RDI) || (rm >= RSP && rm <= RDI) {
		a.emit(rex | p)
	}
}

// SubRSP and AddRSP adjust the stack pointer and clobber the flags.
func (a *Asm) SubRSP(n int32) { a.aluRSP(5, n) }

func (a *Asm) AddRSP(n int32) { a.aluRSP(0, n) }

// AlignRSP16 is and rsp, -16.
func (a *Asm) AlignRSP16() { a.aluRSP(4, -16) }

func (a *Asm) aluRSP(ext byte, n int32) {
	if n >= -128 && n <= 127 {
		a.emit(rexW, 0x83, 0xC0|ext<<3|RSP.low(), byte(int8(n)))
		return
	}
	a.emit(rexW, 0x81, 0xC0|ext<<3|RSP.low())
	a.imm32(uint32(n))
}

// LeaRSP is lea rsp, [rsp+disp]. Unlike SubRSP it leaves the flags alone.
func (a *Asm) LeaRSP(disp int32) {
	a.emit(rexW, 0x8D)
	a.memRSP(RSP, disp)
}

// FXSave64 and FXRstor64 save and restore the x87/SSE state, xmm0-15 and
// MXCSR included, to a 512-byte 16-aligned area at [rsp].
func (a *Asm) FXSave64() { a.emit(rexW, 0x0F, 0xAE, 0x04, 0x24) }

func (a *Asm) FXRstor64() { a.emit(rexW, 0x0F, 0xAE, 0x0C, 0x24) }

// Nop emits n single-byte no-ops.
func (a *Asm) Nop(n int) {
	for i := 0; i < n; i++ {
		a.emit(NopByte)
	}
}

// memRSP encodes the ModRM/SIB/displacement of [rsp+disp] with reg in the
// reg field.
func (a *Asm) memRSP(reg Reg, disp int32) {
	switch {
	case disp == 0:
		a.emit(0x04|reg.low()<<3, 0x24)
	case disp >= -128 && disp <= 127:
		a.emit(0x44|reg.low()<<3, 0x24, byte(int8(disp)))
	default:
		a.emit(0x84|reg.low()<<3, 0x24)
		a.imm32(uint32(disp))
	}
}

func modrmReg(reg, rm Reg) byte {
	return 0xC0 | reg.low()<<3 | rm.low()
}
