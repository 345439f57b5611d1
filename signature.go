package sighook

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Signature is an immutable byte sequence identifying a place in host code.
type Signature struct {
	name  string
	bytes []byte
}

// ReferenceSignature is the host sequence the default configuration hooks:
//
//	mulss   xmm6, xmm6
//	movzx   ebp, bl
//	mov     eax, 1
//	comiss  xmm6, xmm0
//	cmovae  ebp, eax
var ReferenceSignature = MustParseSignature("comment-check",
	"F3 0F 59 F6 0F B6 EB B8 01 00 00 00 0F 2F F0 0F 43 E8")

var errEmptySignature = errors.New("empty signature")

// NewSignature copies b.
func NewSignature(name string, b []byte) (Signature, error) {
	if len(b) == 0 {
		return Signature{}, errEmptySignature
	}
	return Signature{name: name, bytes: append([]byte(nil), b...)}, nil
}

// ParseSignature accepts hex bytes, optionally separated by spaces, commas or
// a 0x prefix per byte.
func ParseSignature(name, s string) (Signature, error) {
	f := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	var b []byte
	for _, tok := range f {
		tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		if len(tok)%2 != 0 {
			return Signature{}, fmt.Errorf("signature %q: odd-length token %q", name, tok)
		}
		v, err := hex.DecodeString(tok)
		if err != nil {
			return Signature{}, fmt.Errorf("signature %q: %w", name, err)
		}
		b = append(b, v...)
	}
	return NewSignature(name, b)
}

// MustParseSignature is ParseSignature that panics, for package-level values.
func MustParseSignature(name, s string) Signature {
	sig, err := ParseSignature(name, s)
	if err != nil {
		panic(err)
	}
	return sig
}

func (s Signature) Name() string { return s.name }

func (s Signature) Len() int { return len(s.bytes) }

func (s Signature) IsZero() bool { return len(s.bytes) == 0 }

// Bytes returns a copy of the signature.
func (s Signature) Bytes() []byte { return append([]byte(nil), s.bytes...) }

// pattern returns the signature without copying; callers must not modify it.
func (s Signature) pattern() []byte { return s.bytes }

// String is the upper-case spaced hex form ParseSignature accepts.
func (s Signature) String() string {
	var sb strings.Builder
	for i, b := range s.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// Instruction is one decoded instruction of a signature.
type Instruction struct {
	Offset int
	Len    int
	Text   string
	// RIPRelative instructions change meaning when moved.
	RIPRelative bool
}

// Instructions decodes the signature as a run of x86-64 instructions.
func (s Signature) Instructions() ([]Instruction, error) {
	var out []Instruction
	src := s.bytes
	for x := 0; x < len(src); {
		inst, err := x86asm.Decode(src[x:], 64)
		// the decoder reports a cut-off instruction as a lone prefix byte
		if errors.Is(err, x86asm.ErrTruncated) || err == nil && inst.Op == 0 {
			return out, fmt.Errorf("%w: at offset %d", ErrSplitInstruction, x)
		}
		if err != nil {
			return out, fmt.Errorf("decode signature at offset %d: %w", x, err)
		}
		out = append(out, Instruction{
			Offset:      x,
			Len:         inst.Len,
			Text:        x86asm.IntelSyntax(inst, 0, nil),
			RIPRelative: ripRelative(inst),
		})
		x += inst.Len
	}
	return out, nil
}

func ripRelative(inst x86asm.Inst) bool {
	for _, a := range inst.Args {
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP {
				return true
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			return true
		}
	}
	return false
}
