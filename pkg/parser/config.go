// Package parser implements the C declaration grammar over the preprocessed
// token stream and the top-level facade that runs the whole pipeline:
// load → preprocess → parse declarations → definition store.
package parser

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the parser configuration surface. The zero value is not useful;
// start from DefaultConfig.
type Config struct {
	// HeaderSearchPaths is the ordered directory list used to resolve
	// relative header paths.
	HeaderSearchPaths []string `yaml:"header_search_paths"`

	// Encoding names the text encoding of input files (IANA name).
	// Empty or "utf-8" reads files as-is.
	Encoding string `yaml:"encoding"`

	// PrimitiveTypes lists recognized primitive type spellings beyond the
	// combinable sign/size keywords.
	PrimitiveTypes []string `yaml:"primitive_types"`

	// TypeQualifiers lists recognized qualifier keywords.
	TypeQualifiers []string `yaml:"type_qualifiers"`

	// Modifiers lists calling conventions and platform modifiers accepted in
	// qualifier position (e.g. __stdcall, near, far, __allowed).
	Modifiers []string `yaml:"modifiers"`

	// Replacements maps regex patterns to replacement text, applied to the
	// raw source before preprocessing. Used to strip attribute wrappers the
	// grammar has no rule for, e.g. `__declspec\(\w+\)` → “”.
	Replacements map[string]string `yaml:"replacements"`

	// MaxExpansion caps macro rescans per expansion run.
	MaxExpansion int `yaml:"max_expansion"`
}

// DefaultConfig returns the stock configuration: C primitives plus the
// fixed-width and POSIX spellings, MSVC-flavored qualifiers, and a
// __declspec-stripping replacement.
func DefaultConfig() Config {
	return Config{
		Encoding: "utf-8",
		PrimitiveTypes: []string{
			"void", "char", "bool", "int", "float", "double",
			"size_t", "ssize_t", "time_t", "wchar_t",
			"int8_t", "int16_t", "int32_t", "int64_t",
			"uint8_t", "uint16_t", "uint32_t", "uint64_t",
		},
		TypeQualifiers: []string{"const", "volatile", "restrict"},
		Modifiers: []string{
			"__cdecl", "__stdcall", "__fastcall",
			"near", "far", "__allowed",
		},
		Replacements: map[string]string{
			`__declspec\(\w+\)`: "",
		},
		MaxExpansion: 0, // preprocessor default
	}
}

// clone returns a deep copy so callers can tweak a config without touching
// the defaults registry.
func (c Config) clone() Config {
	out := c
	out.HeaderSearchPaths = append([]string{}, c.HeaderSearchPaths...)
	out.PrimitiveTypes = append([]string{}, c.PrimitiveTypes...)
	out.TypeQualifiers = append([]string{}, c.TypeQualifiers...)
	out.Modifiers = append([]string{}, c.Modifiers...)
	out.Replacements = make(map[string]string, len(c.Replacements))
	for k, v := range c.Replacements {
		out.Replacements[k] = v
	}
	return out
}

// LoadConfig reads a YAML config file, layered over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// The process-wide defaults registry. Tests use SetDefaults/ResetDefaults to
// install and restore a baseline.
var (
	defaultsMu sync.Mutex
	defaults   = DefaultConfig()
)

// Defaults returns a copy of the current process-wide default configuration.
func Defaults() Config {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	return defaults.clone()
}

// SetDefaults installs a new process-wide default configuration.
func SetDefaults(cfg Config) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults = cfg.clone()
}

// ResetDefaults restores the stock defaults.
func ResetDefaults() {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults = DefaultConfig()
}
