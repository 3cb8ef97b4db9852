package analysis

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/analyzer/functions"
	"github.com/panbanda/ccdead/pkg/analyzer/globals"
	"github.com/panbanda/ccdead/pkg/analyzer/macros"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/ast/clangjson"
	"github.com/panbanda/ccdead/pkg/ast/treesitter"
	"github.com/panbanda/ccdead/pkg/config"
)

// NewAnalyzers builds fresh analyzers for the configured analyses, in
// configuration order. Every call returns new, empty state.
func NewAnalyzers(cfg *config.Config) ([]analyzer.Analyzer, error) {
	filter := cfg.PathFilter()
	out := make([]analyzer.Analyzer, 0, len(cfg.Analysis.Analyses))
	for _, name := range cfg.Analysis.Analyses {
		switch name {
		case macros.Name:
			out = append(out, macros.New(macros.Options{
				Filter:         filter,
				ConditionalUse: cfg.Macros.ConditionalUse,
			}))
		case functions.Name:
			out = append(out, functions.New(functions.Options{
				Filter:            filter,
				Unresolved:        cfg.UnresolvedPolicy(),
				AddressTakenIsUse: cfg.Functions.AddressTakenIsUse,
			}))
		case globals.Name:
			out = append(out, globals.New(globals.Options{Filter: filter}))
		default:
			return nil, fmt.Errorf("unknown analysis %q", name)
		}
	}
	return out, nil
}

// NewProvider builds the configured parser backend.
func NewProvider(cfg *config.Config, fs afero.Fs, log zerolog.Logger) (ast.Provider, error) {
	switch cfg.Analysis.Provider {
	case config.ProviderTreeSitter, "":
		return treesitter.New(treesitter.Options{
			SystemIncludeDirs:  cfg.TreeSitter.SystemIncludeDirs,
			ParseSystemHeaders: cfg.TreeSitter.ParseSystemHeaders,
			MaxIncludeDepth:    cfg.TreeSitter.MaxIncludeDepth,
			Fs:                 fs,
			Logger:             log,
		}), nil
	case config.ProviderClang:
		return clangjson.New(clangjson.Options{
			Binary:    cfg.Clang.Binary,
			ExtraArgs: cfg.Clang.ExtraArgs,
			Logger:    log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Analysis.Provider)
	}
}

// checkProvider fails early when the backend cannot produce the nodes the
// analyses need.
func checkProvider(p ast.Provider, analyzers []analyzer.Analyzer) (ast.ParseOptions, error) {
	opts := analyzer.CombinedOptions(analyzers)
	if !p.Supports(opts) {
		return opts, fmt.Errorf("%w: %s provider cannot honor %s", ast.ErrUnsupportedOptions, p.Name(), opts)
	}
	return opts, nil
}
