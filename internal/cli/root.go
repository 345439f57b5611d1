// Package cli implements the sighook command.
package cli

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/k2io/sighook/internal/config"
	"github.com/k2io/sighook/internal/logging"
)

// Version is set at link time.
var Version = "dev"

type globals struct {
	configPath string
	logLevel   string
	pretty     bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "sighook",
		Short: "Locate, verify and hook a known instruction sequence",
		Long: `sighook finds a byte signature in x86-64 machine code, checks it byte for
byte and replaces it with a long jump to generated code that asks a
callback for a decision.

The subcommands work on images on disk or on synthetic memory, so a
signature can be checked against a new host build before it ships.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fs := root.PersistentFlags()
	fs.StringVar(&g.configPath, "config", "", "YAML settings file")
	fs.StringVar(&g.logLevel, "log-level", "", "override the configured log level")
	fs.BoolVar(&g.pretty, "pretty", true, "human-readable log output")

	root.AddCommand(newCPUCmd(g))
	root.AddCommand(newScanCmd(g))
	root.AddCommand(newVerifyCmd(g))
	root.AddCommand(newTrampolineCmd(g))
	root.AddCommand(newSelftestCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the settings, applies the global flags and builds the logger,
// which writes to the command's error stream.
func (g *globals) load(cmd *cobra.Command) (*config.File, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = g.pretty
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	lc := cfg.Logging()
	lc.Output = cmd.ErrOrStderr()
	return cfg, logging.New(lc), nil
}

// addrValue is a flag holding an address written in any Go integer base.
type addrValue uint64

var _ pflag.Value = (*addrValue)(nil)

func (a *addrValue) String() string { return fmt.Sprintf("%#x", uint64(*a)) }

func (a *addrValue) Set(s string) error {
	v, err := parseAddr(s)
	if err != nil {
		return err
	}
	*a = addrValue(v)
	return nil
}

func (a *addrValue) Type() string { return "address" }

func addrFlag(fs *pflag.FlagSet, p *addrValue, name, usage string) {
	fs.Var(p, name, usage)
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	return v, nil
}
