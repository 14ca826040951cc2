// Package config loads the translator and host loop settings from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"gekkojit/pkg/errors"
	"gekkojit/pkg/jit"
	"gekkojit/pkg/memory"
)

// Mode selects how guest code is executed.
type Mode string

const (
	ModeJIT         Mode = "jit"
	ModeInterpreter Mode = "interpreter"
)

// ModeEnv overrides the configured mode when set.
const ModeEnv = "GEKKOJIT_MODE"

// Size is a byte count written as "24MiB", "16m" or a plain number.
type Size int64

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	v, err := units.RAMInBytes(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = Size(v)
	return nil
}

func (s Size) MarshalYAML() (interface{}, error) { return s.String(), nil }

func (s Size) String() string { return units.BytesSize(float64(s)) }

type Config struct {
	Mode Mode `yaml:"mode"`

	RAMSize       Size   `yaml:"ram_size"`
	CodeCacheSize Size   `yaml:"code_cache_size"`
	ConstSlots    int    `yaml:"const_slots"`
	LoadAddress   uint32 `yaml:"load_address"`
	Entry         uint32 `yaml:"entry"`

	// SliceCycles is the downcount handed to the translator per slice.
	SliceCycles int64 `yaml:"slice_cycles"`

	MaxBlockInstructions int  `yaml:"max_block_instructions"`
	MaxImmediates        int  `yaml:"max_immediates"`
	DisableFolding       bool `yaml:"disable_folding"`
	ValidateBlocks       bool `yaml:"validate_blocks"`

	TraceFile   string   `yaml:"trace_file"`
	StatePath   string   `yaml:"state_path"`
	Breakpoints []uint32 `yaml:"breakpoints"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Mode:                 ModeJIT,
		RAMSize:              memory.DefaultSize,
		CodeCacheSize:        jit.DefaultCodeSize,
		ConstSlots:           jit.DefaultConstSize,
		LoadAddress:          0x80003100,
		Entry:                0x80003100,
		SliceCycles:          20000,
		MaxBlockInstructions: jit.DefaultMaxBlockInstructions,
		StatePath:            "./gekkojit-state",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// The mode environment variable wins over the file.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, errors.WrapTranslationError(err, errors.KindConfig, 0, "parse "+path)
		}
	}
	if m := os.Getenv(ModeEnv); m != "" {
		c.Mode = Mode(strings.ToLower(m))
	}
	return c, c.Validate()
}

func invalid(format string, args ...interface{}) error {
	return errors.TranslationErrorf(errors.KindConfig, 0, format, args...)
}

func (c *Config) Validate() error {
	switch {
	case c.Mode != ModeJIT && c.Mode != ModeInterpreter:
		return invalid("unknown mode %q", c.Mode)
	case c.RAMSize < memory.PageSize || c.RAMSize > 0x40000000 || c.RAMSize%memory.PageSize != 0:
		return invalid("ram_size %s must be a page multiple no larger than 1GiB", c.RAMSize)
	case c.CodeCacheSize < 4096:
		return invalid("code_cache_size %s is too small", c.CodeCacheSize)
	case c.ConstSlots <= 0:
		return invalid("const_slots must be positive")
	case c.SliceCycles <= 0:
		return invalid("slice_cycles must be positive")
	case c.MaxBlockInstructions < 0 || c.MaxImmediates < 0:
		return invalid("block limits must not be negative")
	case c.LoadAddress&3 != 0 || c.Entry&3 != 0:
		return invalid("load_address and entry must be word aligned")
	}
	return nil
}

// JITOptions converts the translator settings.
func (c *Config) JITOptions() jit.Options {
	return jit.Options{
		CodeSize:             int(c.CodeCacheSize),
		ConstSlots:           c.ConstSlots,
		MaxBlockInstructions: c.MaxBlockInstructions,
		MaxImmediates:        c.MaxImmediates,
		DisableFolding:       c.DisableFolding,
		ValidateBlocks:       c.ValidateBlocks,
	}
}
