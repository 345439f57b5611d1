package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/sighook"
	"github.com/k2io/sighook/internal/memview"
)

func newSelftestCmd(g *globals) *cobra.Command {
	var (
		size   int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Locate, verify and hook the signature in synthetic memory",
		Long: `selftest maps an anonymous host region, plants the configured signature in
it and runs the whole activation against it. The host code is never
executed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			ec, err := cfg.ToEngine()
			if err != nil {
				return err
			}
			if offset < 0 || offset+ec.Signature.Len() > size {
				return fmt.Errorf("offset %#x does not fit a %d byte host", offset, size)
			}

			mem := sighook.HostMemory()
			host, err := mem.AllocExec(size)
			if err != nil {
				return fmt.Errorf("map synthetic host: %w", err)
			}
			for i := range host {
				host[i] = 0xCC
			}
			copy(host[offset:], ec.Signature.Bytes())
			v := memview.FromBytes(host)

			cb, err := sighook.NewDecisionCallback(func(uintptr) bool { return true })
			if errors.Is(err, sighook.ErrUnsupported) {
				// the host is never run, any address will do
				cb, err = 0x1000, nil
			}
			if err != nil {
				return err
			}

			eng, err := sighook.NewEngine(ec, sighook.WithEngineLogger(log), sighook.WithEngineMemory(mem))
			if err != nil {
				return err
			}
			st := eng.Activate(v, cb)
			if !st.Active {
				return fmt.Errorf("selftest failed: %s: %w", st.Reason, st.Err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "host:    %s\n", v)
			fmt.Fprintf(w, "found:   %#x (offset %#x) with %s\n", st.Address, st.Address-v.Base(), st.Tier)
			fmt.Fprintf(w, "elapsed: %s\n", st.Elapsed)
			fmt.Fprintf(w, "patch:\n")
			disassemble(w, st.Hook.Patch, uint64(st.Hook.Target))
			body := memview.FromAddress(st.Hook.Code, uintptr(ec.BufferSize)).Bytes()
			fmt.Fprintf(w, "hook body:\n")
			disassemble(w, trimInt3(body), uint64(st.Hook.Code))
			if st.Hook.RestoreErr != nil {
				fmt.Fprintf(w, "warning: %v\n", st.Hook.RestoreErr)
			}
			fmt.Fprintln(w, "selftest passed")
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&size, "size", 16<<20, "synthetic host size in bytes")
	fs.IntVar(&offset, "offset", 4096, "where the signature is planted")
	return cmd
}

// trimInt3 drops the int3 filler after the generated code.
func trimInt3(b []byte) []byte {
	n := len(b)
	for n > 0 && b[n-1] == 0xCC {
		n--
	}
	return b[:n]
}
