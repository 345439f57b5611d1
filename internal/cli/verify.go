package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/sighook"
)

func newVerifyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <image> <address>",
		Short: "Compare the bytes at an address with the signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			ec, err := cfg.ToEngine()
			if err != nil {
				return err
			}
			addr, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			img, err := openImage(args[0])
			if err != nil {
				return err
			}

			v := img.view()
			target := uintptr(addr)
			err = sighook.NewVerifier(log).Verify(v, target, ec.Signature)

			w := cmd.OutOrStdout()
			if found, ferr := v.Slice(target, ec.Signature.Len()); ferr == nil {
				for i, b := range ec.Signature.Bytes() {
					mark := ""
					if found[i] != b {
						mark = "  <- mismatch"
					}
					fmt.Fprintf(w, "%#x  +%02d  expected %02X  found %02X%s\n", addr+uint64(i), i, b, found[i], mark)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "compatible: %s matches at %#x\n", ec.Signature.Name(), addr)
			return nil
		},
	}
}
