// Package config loads ccdead's configuration from TOML, YAML or JSON files
// layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/analyzer/functions"
	"github.com/panbanda/ccdead/pkg/analyzer/globals"
	"github.com/panbanda/ccdead/pkg/analyzer/macros"
)

// Analysis backends.
const (
	ProviderTreeSitter = "treesitter"
	ProviderClang      = "clang"
)

// Formats lists the report formats the output package can render.
var Formats = []string{"text", "json", "markdown", "toon", "yaml"}

// Analyses lists the analyses in the order they run.
var Analyses = []string{macros.Name, functions.Name, globals.Name}

// Config holds all configuration options for ccdead.
type Config struct {
	Analysis   AnalysisConfig   `koanf:"analysis" toml:"analysis"`
	Workers    WorkersConfig    `koanf:"workers" toml:"workers"`
	Store      StoreConfig      `koanf:"store" toml:"store"`
	Clang      ClangConfig      `koanf:"clang" toml:"clang"`
	TreeSitter TreeSitterConfig `koanf:"treesitter" toml:"treesitter"`
	Macros     MacrosConfig     `koanf:"macros" toml:"macros"`
	Functions  FunctionsConfig  `koanf:"functions" toml:"functions"`
	Exclude    ExcludeConfig    `koanf:"exclude" toml:"exclude"`
	Output     OutputConfig     `koanf:"output" toml:"output"`
}

// AnalysisConfig selects the analyses and the parser backend.
type AnalysisConfig struct {
	Analyses []string `koanf:"analyses" toml:"analyses"`
	Provider string   `koanf:"provider" toml:"provider"` // treesitter, clang
}

// WorkersConfig controls process-parallel execution.
type WorkersConfig struct {
	Count            int  `koanf:"count" toml:"count"` // 0 = number of CPUs
	Parallel         bool `koanf:"parallel" toml:"parallel"`
	TimeoutSeconds   int  `koanf:"timeout_seconds" toml:"timeout_seconds"` // 0 = no limit
	KillGraceSeconds int  `koanf:"kill_grace_seconds" toml:"kill_grace_seconds"`
	AllowPartial     bool `koanf:"allow_partial" toml:"allow_partial"`
}

// Timeout returns the per-worker time limit, zero for none.
func (w WorkersConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

func (w WorkersConfig) KillGrace() time.Duration {
	return time.Duration(w.KillGraceSeconds) * time.Second
}

// StoreConfig controls where partial results are written.
type StoreConfig struct {
	Dir  string `koanf:"dir" toml:"dir"`
	Keep bool   `koanf:"keep" toml:"keep"`
}

// ClangConfig configures the clang JSON provider.
type ClangConfig struct {
	Binary    string   `koanf:"binary" toml:"binary"`
	ExtraArgs []string `koanf:"extra_args" toml:"extra_args"`
}

// TreeSitterConfig configures the tree-sitter provider.
type TreeSitterConfig struct {
	SystemIncludeDirs  []string `koanf:"system_include_dirs" toml:"system_include_dirs"`
	ParseSystemHeaders bool     `koanf:"parse_system_headers" toml:"parse_system_headers"`
	MaxIncludeDepth    int      `koanf:"max_include_depth" toml:"max_include_depth"`
}

type MacrosConfig struct {
	ConditionalUse bool `koanf:"conditional_use" toml:"conditional_use"`
}

type FunctionsConfig struct {
	Unresolved        string `koanf:"unresolved" toml:"unresolved"` // used, report, ignore
	AddressTakenIsUse bool   `koanf:"address_taken_is_use" toml:"address_taken_is_use"`
}

// ExcludeConfig defines what is left out of the analysis. Prefixes filter
// declarations by source path; patterns drop compilation database entries.
type ExcludeConfig struct {
	Prefixes []string `koanf:"prefixes" toml:"prefixes"`
	Patterns []string `koanf:"patterns" toml:"patterns"`
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format string `koanf:"format" toml:"format"`
	Color  bool   `koanf:"color" toml:"color"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Analyses: slices.Clone(Analyses),
			Provider: ProviderTreeSitter,
		},
		Workers: WorkersConfig{
			Parallel:         true,
			KillGraceSeconds: 5,
		},
		Store: StoreConfig{
			Dir: filepath.Join(".ccdead", "runs"),
		},
		Clang: ClangConfig{
			Binary: "clang",
		},
		TreeSitter: TreeSitterConfig{
			SystemIncludeDirs: []string{"/usr/local/include", "/usr/include"},
			MaxIncludeDepth:   200,
		},
		Macros: MacrosConfig{
			ConditionalUse: true,
		},
		Functions: FunctionsConfig{
			Unresolved:        string(functions.PolicyUsed),
			AddressTakenIsUse: true,
		},
		Exclude: ExcludeConfig{
			Prefixes: slices.Clone(analyzer.DefaultExcludedPrefixes),
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
	}
}

// Load loads configuration from a file over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cfg, nil
}

// searchNames are tried in each search directory, in order.
var searchNames = []string{
	"ccdead.toml",
	"ccdead.yaml",
	"ccdead.yml",
	"ccdead.json",
	".ccdead.toml",
	".ccdead.yaml",
	".ccdead.yml",
	".ccdead.json",
}

var searchDirs = []string{".", ".ccdead"}

// Find returns the first config file in the standard locations, or "".
func Find() string {
	for _, dir := range searchDirs {
		for _, name := range searchNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// LoadOrDefault tries to load config from standard locations or returns defaults.
func LoadOrDefault() *Config {
	if path := Find(); path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	return DefaultConfig()
}

// LoadOption configures LoadConfig.
type LoadOption func(*loadOptions)

type loadOptions struct {
	path string
}

// WithPath loads the given file instead of searching the standard locations.
func WithPath(path string) LoadOption {
	return func(o *loadOptions) { o.path = path }
}

// LoadResult is a validated configuration and the file it came from.
// Source is empty when the defaults were used.
type LoadResult struct {
	Config *Config
	Source string
}

// LoadConfig loads and validates configuration. Unlike LoadOrDefault it
// reports unreadable or invalid files.
func LoadConfig(opts ...LoadOption) (*LoadResult, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	path := o.path
	if path == "" {
		path = Find()
	}
	if path == "" {
		cfg := DefaultConfig()
		return &LoadResult{Config: cfg}, cfg.Validate()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Source: path}, nil
}

// Validate checks values that cannot be expressed in the file format.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Analysis.Analyses) == 0 {
		errs = append(errs, errors.New("analysis.analyses: at least one analysis is required"))
	}
	for _, name := range c.Analysis.Analyses {
		if !slices.Contains(Analyses, name) {
			errs = append(errs, fmt.Errorf("analysis.analyses: unknown analysis %q (want one of %s)",
				name, strings.Join(Analyses, ", ")))
		}
	}
	switch c.Analysis.Provider {
	case ProviderTreeSitter:
	case ProviderClang:
		if slices.Contains(c.Analysis.Analyses, macros.Name) {
			errs = append(errs, errors.New("analysis.provider: clang cannot run the macros analysis; use treesitter"))
		}
	default:
		errs = append(errs, fmt.Errorf("analysis.provider: unknown provider %q", c.Analysis.Provider))
	}

	if c.Workers.Count < 0 {
		errs = append(errs, fmt.Errorf("workers.count: must not be negative, got %d", c.Workers.Count))
	}
	if c.Workers.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("workers.timeout_seconds: must not be negative, got %d", c.Workers.TimeoutSeconds))
	}
	if c.Workers.KillGraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("workers.kill_grace_seconds: must not be negative, got %d", c.Workers.KillGraceSeconds))
	}
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir: must not be empty"))
	}
	if c.TreeSitter.MaxIncludeDepth < 0 {
		errs = append(errs, fmt.Errorf("treesitter.max_include_depth: must not be negative, got %d", c.TreeSitter.MaxIncludeDepth))
	}
	if _, err := functions.ParsePolicy(c.Functions.Unresolved); err != nil {
		errs = append(errs, fmt.Errorf("functions.unresolved: %w", err))
	}
	for _, p := range c.Exclude.Patterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("exclude.patterns: invalid pattern %q", p))
		}
	}
	if !slices.Contains(Formats, c.Output.Format) {
		errs = append(errs, fmt.Errorf("output.format: unknown format %q (want one of %s)",
			c.Output.Format, strings.Join(Formats, ", ")))
	}

	return errors.Join(errs...)
}

// UnresolvedPolicy returns the parsed functions.unresolved value.
func (c *Config) UnresolvedPolicy() functions.Policy {
	p, err := functions.ParsePolicy(c.Functions.Unresolved)
	if err != nil {
		return functions.PolicyUsed
	}
	return p
}

// PathFilter builds the declaration filter from exclude.prefixes.
func (c *Config) PathFilter() *analyzer.PathFilter {
	prefixes := c.Exclude.Prefixes
	if prefixes == nil {
		prefixes = []string{}
	}
	return analyzer.NewPathFilter(prefixes)
}
