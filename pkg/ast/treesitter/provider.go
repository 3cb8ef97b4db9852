// Package treesitter implements ast.Provider on top of tree-sitter's C and
// C++ grammars. A light preprocessor resolves includes, tracks #define and
// #undef, evaluates #if conditions and records macro definitions and
// expansions; calls and variable references are resolved by name against
// the translation unit's declarations.
package treesitter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/parser"
)

// DefaultMaxIncludeDepth matches clang's nesting limit.
const DefaultMaxIncludeDepth = 200

// Options configures the provider.
type Options struct {
	// SystemIncludeDirs are searched for angle includes after -I and
	// -isystem, but only when ParseSystemHeaders is set.
	SystemIncludeDirs  []string
	ParseSystemHeaders bool
	MaxIncludeDepth    int

	// Fs is the filesystem sources are read from. Defaults to the OS.
	Fs     afero.Fs
	Logger zerolog.Logger
}

// Provider implements ast.Provider using tree-sitter.
type Provider struct {
	opts Options
}

var _ ast.Provider = (*Provider)(nil)

// New creates a new tree-sitter based provider.
func New(opts Options) *Provider {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	return &Provider{opts: opts}
}

func (p *Provider) Name() string {
	return "treesitter"
}

// Supports reports true for every option set; skipped function bodies are
// pruned after mapping.
func (p *Provider) Supports(ast.ParseOptions) bool {
	return true
}

// NewIndex creates an index owning its own tree-sitter parser.
func (p *Provider) NewIndex() (ast.Index, error) {
	return &index{opts: p.opts, parser: parser.New()}, nil
}

type index struct {
	opts   Options
	parser *parser.Parser
	closed bool
}

var errIndexClosed = errors.New("index is closed")

// Parse maps one translation unit. Headers are parsed in the unit's
// language; an unreadable main file is an error, unreadable headers are
// skipped.
func (ix *index) Parse(ctx context.Context, args []string, opts ast.ParseOptions) (ast.Tree, error) {
	if ix.closed {
		return nil, errIndexClosed
	}
	if len(args) == 0 {
		return nil, errors.New("empty argument vector")
	}

	flags := parseFlags(args)
	if flags.lang == parser.LangUnknown {
		return nil, fmt.Errorf("%w: %s", ast.ErrUnsupportedLanguage, flags.file)
	}

	b := newBuilder(ctx, ix.parser, ix.opts, flags, opts)
	root := &node{kind: ast.KindTranslationUnit, spelling: filepath.Clean(flags.file)}

	for _, inc := range flags.forceIncludes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(flags.dir, inc)
		}
		items, err := b.parseFile(inc)
		if err != nil {
			ix.opts.Logger.Debug().Err(err).Str("include", inc).Msg("forced include skipped")
			continue
		}
		root.children = append(root.children, items...)
	}

	items, err := b.parseFile(flags.file)
	if err != nil {
		return nil, err
	}
	root.children = append(root.children, items...)
	return &tree{root: root}, nil
}

func (ix *index) Close() {
	if ix.closed {
		return
	}
	ix.closed = true
	ix.parser.Close()
}

type tree struct {
	root *node
}

func (t *tree) Root() ast.Node {
	if t.root == nil {
		return nil
	}
	return t.root
}

func (t *tree) Close() {
	t.root = nil
}
