package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/sighook"
	"github.com/k2io/sighook/internal/cpufeat"
	"github.com/k2io/sighook/internal/scan"
)

func newScanCmd(g *globals) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Search an executable's code section for the signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			ec, err := cfg.ToEngine()
			if err != nil {
				return err
			}
			if tier != "" {
				if ec.ForceTier, err = scan.ParseTier(tier); err != nil {
					return err
				}
			}
			img, err := openImage(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "image:   %s (%s)\n", img.path, img.format)
			fmt.Fprintf(w, "base:    %#x\n", img.base)
			fmt.Fprintf(w, "text:    %#x, %d bytes\n", img.text.Addr, len(img.text.Data))
			fmt.Fprintf(w, "digest:  %s\n", img.digest())

			v := img.view()
			lc := sighook.NewLocator(cpufeat.Detect(),
				sighook.WithLogger(log),
				sighook.WithForcedTier(ec.ForceTier),
				sighook.WithProbe(ec.Probe),
			)
			res := lc.Locate(v, ec.Signature)
			if !res.Found {
				return res.Err
			}
			addr := uint64(res.Address)
			fmt.Fprintf(w, "found:   %#x\n", addr)
			fmt.Fprintf(w, "offset:  %#x from base, %#x into text\n", addr-img.base, res.Offset(v))
			if sym := img.symbolize(addr); sym != "" {
				fmt.Fprintf(w, "symbol:  %s\n", sym)
			}
			fmt.Fprintf(w, "tier:    %s in %s\n", res.Tier, res.Elapsed)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "widest scan tier to try (avx2, sse2, scalar)")
	return cmd
}
