package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
)

// Language represents a supported source language.
type Language string

const (
	LangC       Language = "c"
	LangCPP     Language = "cpp"
	LangUnknown Language = "unknown"
)

// Parser wraps a tree-sitter parser. It is not safe for concurrent use.
type Parser struct {
	parser *sitter.Parser
}

// ParseResult contains the parsed tree and its source.
type ParseResult struct {
	Tree     *sitter.Tree
	Language Language
	Source   []byte
	Path     string
}

// Close releases the tree.
func (r *ParseResult) Close() {
	if r.Tree != nil {
		r.Tree.Close()
	}
}

// New creates a new parser instance.
func New() *Parser {
	return &Parser{
		parser: sitter.NewParser(),
	}
}

// Parse parses source code with a specified language.
func (p *Parser) Parse(ctx context.Context, source []byte, lang Language, path string) (*ParseResult, error) {
	tsLang, err := GetTreeSitterLanguage(lang)
	if err != nil {
		return nil, err
	}

	p.parser.SetLanguage(tsLang)
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	return &ParseResult{
		Tree:     tree,
		Language: lang,
		Source:   source,
		Path:     path,
	}, nil
}

// GetTreeSitterLanguage returns the tree-sitter language for a Language.
func GetTreeSitterLanguage(lang Language) (*sitter.Language, error) {
	switch lang {
	case LangC:
		return c.GetLanguage(), nil
	case LangCPP:
		return cpp.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
}

// DetectLanguage determines the language from a file path.
// Headers ending in .h are treated as C; the including unit's language
// should win when known.
func DetectLanguage(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".h":
		return LangC
	case ".cpp", ".cc", ".cxx", ".c++", ".hpp", ".hxx", ".hh", ".h++", ".ipp", ".inl", ".tcc":
		return LangCPP
	case ".m", ".mm":
		// Objective-C bodies are close enough to C for symbol extraction.
		return LangC
	default:
		return LangUnknown
	}
}

// LanguageFromFlag maps a -x argument or -std= value to a Language.
func LanguageFromFlag(value string) Language {
	v := strings.ToLower(value)
	switch {
	case v == "c" || v == "c-header" || strings.HasPrefix(v, "c8") || strings.HasPrefix(v, "c9") ||
		strings.HasPrefix(v, "c1") || strings.HasPrefix(v, "c2") || strings.HasPrefix(v, "gnu8") ||
		strings.HasPrefix(v, "gnu9") || strings.HasPrefix(v, "gnu1") || strings.HasPrefix(v, "gnu2"):
		return LangC
	case strings.Contains(v, "++") || strings.Contains(v, "xx"):
		return LangCPP
	default:
		return LangUnknown
	}
}

// Close releases parser resources.
func (p *Parser) Close() {
	p.parser.Close()
}

// GetNodeText extracts the source text for a node.
// Returns empty string if node is nil or byte offsets are out of bounds.
func GetNodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if start > end || end > uint32(len(source)) {
		return ""
	}
	return string(source[start:end])
}

// Position returns the 1-based line and column of a node's start.
func Position(node *sitter.Node) (line, column int) {
	p := node.StartPoint()
	return int(p.Row) + 1, int(p.Column) + 1
}

// SameNode reports whether two handles refer to the same syntax node.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}
