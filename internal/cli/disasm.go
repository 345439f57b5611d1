package cli

import (
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"
)

// disassemble prints code as if it were loaded at pc. Undecodable bytes are
// printed one at a time.
func disassemble(w io.Writer, code []byte, pc uint64) {
	for x := 0; x < len(code); {
		inst, err := x86asm.Decode(code[x:], 64)
		n, text := inst.Len, ""
		if err != nil || inst.Op == 0 {
			n, text = 1, fmt.Sprintf(".byte %#02x", code[x])
		} else {
			text = x86asm.IntelSyntax(inst, pc+uint64(x), nil)
		}
		fmt.Fprintf(w, "  %#010x  %-30s %s\n", pc+uint64(x), fmt.Sprintf("% x", code[x:x+n]), text)
		x += n
	}
}
