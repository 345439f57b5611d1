package cli

import (
	"fmt"
	"slices"
	"strings"

	gcpu "github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/spf13/cobra"

	"github.com/k2io/sighook"
	"github.com/k2io/sighook/internal/cpufeat"
	"github.com/k2io/sighook/internal/scan"
)

func newCPUCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cpu",
		Short: "Report the scan tiers this machine can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := g.load(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			caps := cpufeat.Detect()
			plan := sighook.NewLocator(caps).Plan()

			fmt.Fprintf(w, "capabilities: %s\n", caps)
			fmt.Fprintf(w, "native kernels: %t\n", scan.Native)
			for _, t := range scan.Tiers {
				usable := slices.Contains(plan, t)
				probe := "skipped"
				// a tier the CPU lacks would raise an illegal instruction
				if usable {
					probe = "fail"
					if scan.Probe(t) {
						probe = "ok"
					}
				}
				fmt.Fprintf(w, "tier %-6s width %2d  usable %-5t probe %s\n", t, t.Width(), usable, probe)
			}

			diff := cpufeat.CrossCheck(caps)
			if infos, err := gcpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
				fmt.Fprintf(w, "model: %s\n", infos[0].ModelName)
				diff = append(diff, flagCheck(caps, infos[0].Flags)...)
			}
			for _, d := range diff {
				fmt.Fprintf(w, "disagreement: %s\n", d)
			}
			if sys, role, err := host.VirtualizationWithContext(ctx); err == nil && sys != "" {
				fmt.Fprintf(w, "virtualization: %s (%s)\n", sys, role)
			}
			return nil
		},
	}
}

// flagCheck compares the detected tiers with the flags the OS reports. An
// empty flag list means the OS does not report them.
func flagCheck(caps sighook.Capabilities, flags []string) []string {
	if len(flags) == 0 {
		return nil
	}
	has := func(f string) bool {
		return slices.ContainsFunc(flags, func(s string) bool { return strings.EqualFold(s, f) })
	}
	var out []string
	if caps.SSE2 != has("sse2") {
		out = append(out, fmt.Sprintf("sse2: cpuid=%t os=%t", caps.SSE2, has("sse2")))
	}
	if caps.AVX2 != has("avx2") {
		out = append(out, fmt.Sprintf("avx2: cpuid=%t os=%t", caps.AVX2, has("avx2")))
	}
	return out
}
