package ast

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedOptions is returned when a provider cannot honor the requested
// parse options (e.g., a detailed preprocessing record from the clang provider).
var ErrUnsupportedOptions = errors.New("parse options not supported by provider")

// ErrUnsupportedLanguage is returned when parsing a file with an unsupported language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Kind is the syntactic category of a node.
type Kind int

const (
	KindUnknown Kind = iota
	KindTranslationUnit
	KindInclusionDirective
	KindMacroDefinition
	KindMacroExpansion
	// KindMacroReference is a macro tested by #ifdef, #ifndef or defined()
	// without being expanded.
	KindMacroReference
	KindFunctionDecl
	KindMethodDecl
	KindVarDecl
	KindCallExpr
	KindMemberCallExpr
	KindDeclRefExpr
	KindOther
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindTranslationUnit:    "translation_unit",
	KindInclusionDirective: "inclusion_directive",
	KindMacroDefinition:    "macro_definition",
	KindMacroExpansion:     "macro_expansion",
	KindMacroReference:     "macro_reference",
	KindFunctionDecl:       "function_decl",
	KindMethodDecl:         "method_decl",
	KindVarDecl:            "var_decl",
	KindCallExpr:           "call_expr",
	KindMemberCallExpr:     "member_call_expr",
	KindDeclRefExpr:        "decl_ref_expr",
	KindOther:              "other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Location is a position in a source file. Lines and columns are 1-based.
// The zero Location means the node has no source location (e.g., a macro
// injected with -D or a compiler builtin).
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Valid reports whether the location refers to a real file position.
func (l Location) Valid() bool {
	return l.File != "" && l.Line > 0
}

func (l Location) String() string {
	if !l.Valid() {
		return "<no location>"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Node is a read-only view into a parsed translation unit. A Node is only
// valid until the Tree that produced it is closed and must not be retained
// past the traversal of its translation unit.
type Node interface {
	Kind() Kind

	// Spelling returns the display name (macro name, function name, ...).
	Spelling() string

	Location() Location

	// Type returns the canonical type spelling, or "" if not applicable.
	Type() string

	// Definition resolves a macro expansion or reference to its definition.
	// Returns (nil, nil) when the node has no definition.
	Definition() (Node, error)

	// Referenced resolves a call or declaration reference to the declaration
	// it refers to. Returns (nil, nil) when the target cannot be resolved.
	Referenced() (Node, error)

	// Builtin reports whether a macro node is a compiler builtin.
	Builtin() bool

	// FileScope reports whether a declaration is at namespace or file scope.
	FileScope() bool

	Children() []Node
}

// Tree is one parsed translation unit.
type Tree interface {
	Root() Node
	Close()
}

// Index owns parser state. An Index is not safe for concurrent use and must
// never be shared across worker processes.
type Index interface {
	// Parse parses one translation unit from its compiler argument vector.
	// The last element of args is the absolute path of the source file.
	Parse(ctx context.Context, args []string, opts ParseOptions) (Tree, error)

	Close()
}

// Provider creates parser indexes.
type Provider interface {
	Name() string

	NewIndex() (Index, error)

	// Supports reports whether the provider can honor opts.
	Supports(opts ParseOptions) bool
}

// QueryError is returned when a node attribute cannot be queried (malformed
// or unsupported node). Traversal recovers from it and moves on.
type QueryError struct {
	Kind  Kind
	Loc   Location
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s on %s at %s: %v", e.Query, e.Kind, e.Loc, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError reports whether err is or wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
