package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/sighook"
	"github.com/k2io/sighook/internal/x64"
)

func newTrampolineCmd(g *globals) *cobra.Command {
	var (
		length   int
		callback addrValue
		dest     addrValue
	)
	cmd := &cobra.Command{
		Use:   "trampoline <address>",
		Short: "Encode and disassemble the patch and hook body for an address",
		Long: `trampoline shows the bytes that would replace the signature at <address>
and, with --callback, the hook body they jump to. Nothing is installed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load(cmd)
			if err != nil {
				return err
			}
			ec, err := cfg.ToEngine()
			if err != nil {
				return err
			}
			target, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			if length == 0 {
				length = ec.Signature.Len()
			}
			to := uint64(dest)
			if to == 0 {
				to = 0x7ff600000000
			}

			w := cmd.OutOrStdout()
			patch, err := x64.Patch(uintptr(to), length, ec.Scratch, ec.ABI)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "patch at %#x, %d bytes, abi %s, via %s:\n", target, len(patch), ec.ABI.Name, ec.Scratch)
			disassemble(w, patch, target)

			if callback == 0 {
				return nil
			}
			gen := &sighook.DecisionHook{
				Callback: uintptr(callback),
				ABI:      ec.ABI,
				Actor:    ec.Actor,
				Result:   ec.Result,
				Fixups:   ec.Fixups,
			}
			body, err := gen.Generate(uintptr(target) + uintptr(length))
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "hook body at %#x, %d of %d bytes:\n", to, len(body), ec.BufferSize)
			disassemble(w, body, to)
			if len(body) > ec.BufferSize {
				return fmt.Errorf("%w: %d > %d bytes", sighook.ErrOversizedCode, len(body), ec.BufferSize)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&length, "length", 0, "bytes to overwrite (default: signature length)")
	addrFlag(fs, &callback, "callback", "decision callback address; prints the hook body")
	addrFlag(fs, &dest, "dest", "address of the hook body")
	return cmd
}
