// Package config loads the sighook settings file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/k2io/sighook"
	"github.com/k2io/sighook/internal/logging"
	"github.com/k2io/sighook/internal/scan"
	"github.com/k2io/sighook/internal/x64"
)

// Hex is an unsigned value written in YAML either as an integer or as a
// string with a 0x prefix.
type Hex uint64

func (h *Hex) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(strings.ReplaceAll(n.Value, "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a number", n.Line, n.Value)
	}
	*h = Hex(v)
	return nil
}

func (h Hex) MarshalYAML() (any, error) { return fmt.Sprintf("%#x", uint64(h)), nil }

// File is the on-disk configuration.
type File struct {
	Log  Log  `yaml:"log"`
	Scan Scan `yaml:"scan"`
	Hook Hook `yaml:"hook"`
}

type Log struct {
	Level  string `yaml:"level" env:"SIGHOOK_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"SIGHOOK_LOG_PRETTY"`
}

type Scan struct {
	// Offset and Size place the window relative to the module base.
	Offset Hex `yaml:"offset" env:"SIGHOOK_SCAN_OFFSET"`
	Size   Hex `yaml:"size" env:"SIGHOOK_SCAN_SIZE"`
	// ForceTier caps the widest tier tried.
	ForceTier string `yaml:"force_tier" env:"SIGHOOK_FORCE_TIER"`
	Probe     bool   `yaml:"probe" env:"SIGHOOK_PROBE"`
}

type Hook struct {
	Signature  string  `yaml:"signature" env:"SIGHOOK_SIGNATURE"`
	BufferSize int     `yaml:"buffer_size" env:"SIGHOOK_BUFFER_SIZE"`
	ABI        string  `yaml:"abi" env:"SIGHOOK_ABI"`
	Scratch    string  `yaml:"scratch"`
	Actor      string  `yaml:"actor"`
	Result     string  `yaml:"result"`
	Fixups     []Fixup `yaml:"fixups"`
}

// Fixup reloads Value into Reg after the callback.
type Fixup struct {
	Reg   string `yaml:"reg"`
	Value uint32 `yaml:"value"`
}

// Default returns the settings for the reference host.
func Default() *File {
	return &File{
		Log: Log{Level: "info", Pretty: true},
		Scan: Scan{
			Offset:    sighook.DefaultScanOffset,
			Size:      sighook.DefaultScanSize,
			ForceTier: "avx2",
			Probe:     true,
		},
		Hook: Hook{
			Signature:  sighook.ReferenceSignature.String(),
			BufferSize: sighook.DefaultBufferSize,
			ABI:        "native",
			Scratch:    x64.DefaultScratch.String(),
			Actor:      sighook.DefaultActorReg.String(),
			Result:     sighook.DefaultResultReg.String(),
			Fixups:     []Fixup{{Reg: "rax", Value: 1}},
		},
	}
}

// Load layers the file at path and then the environment over the defaults.
// A missing file is not an error.
func Load(path string) (*File, error) {
	cfg := Default()
	if path != "" {
		//nolint:gosec // G304: path is chosen by the operator.
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *File, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	//nolint:gosec // G306: the file holds no secrets.
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Logging returns the logger settings.
func (f *File) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = f.Log.Level
	lc.Pretty = f.Log.Pretty
	return lc
}

// Validate reports the first setting the engine would reject.
func (f *File) Validate() error {
	if _, err := zerolog.ParseLevel(normalLevel(f.Log.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	cfg, err := f.ToEngine()
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func normalLevel(s string) string {
	switch s = strings.ToLower(s); s {
	case "warning":
		return "warn"
	case "off":
		return "disabled"
	}
	return s
}

// ToEngine converts the file into an engine configuration.
func (f *File) ToEngine() (sighook.Config, error) {
	c := sighook.DefaultConfig()
	var err error

	c.ScanOffset = uintptr(f.Scan.Offset)
	c.ScanSize = uintptr(f.Scan.Size)
	c.Probe = f.Scan.Probe
	if f.Scan.ForceTier != "" {
		if c.ForceTier, err = scan.ParseTier(f.Scan.ForceTier); err != nil {
			return c, fmt.Errorf("scan.force_tier: %w", err)
		}
	}

	if f.Hook.Signature != "" {
		if c.Signature, err = sighook.ParseSignature("configured", f.Hook.Signature); err != nil {
			return c, fmt.Errorf("hook.signature: %w", err)
		}
	}
	c.BufferSize = f.Hook.BufferSize
	if c.ABI, err = sighook.ParseABI(strings.ToLower(f.Hook.ABI)); err != nil {
		return c, fmt.Errorf("hook.abi: %w", err)
	}
	regs := []struct {
		name string
		val  string
		dst  *sighook.Reg
	}{
		{"hook.scratch", f.Hook.Scratch, &c.Scratch},
		{"hook.actor", f.Hook.Actor, &c.Actor},
		{"hook.result", f.Hook.Result, &c.Result},
	}
	for _, r := range regs {
		if r.val == "" {
			continue
		}
		if *r.dst, err = sighook.ParseReg(strings.ToLower(r.val)); err != nil {
			return c, fmt.Errorf("%s: %w", r.name, err)
		}
	}
	c.Fixups = c.Fixups[:0:0]
	for i, fx := range f.Hook.Fixups {
		reg, err := sighook.ParseReg(strings.ToLower(fx.Reg))
		if err != nil {
			return c, fmt.Errorf("hook.fixups[%d]: %w", i, err)
		}
		c.Fixups = append(c.Fixups, sighook.Fixup{Reg: reg, Value: fx.Value})
	}
	return c, nil
}
