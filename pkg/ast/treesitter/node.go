package treesitter

import (
	"errors"
	"strings"

	"github.com/panbanda/ccdead/pkg/ast"
)

var errSyntaxRegion = errors.New("node lies in a region tree-sitter could not parse")

// node is a materialized view of one syntax element. Nodes hold no
// tree-sitter handles, so the underlying parse trees are released as soon
// as a file has been mapped.
type node struct {
	kind      ast.Kind
	spelling  string
	loc       ast.Location
	typ       string
	builtin   bool
	fileScope bool
	children  []ast.Node

	// macro expansions and references
	def *node

	// calls and declaration references, resolved lazily against the unit
	unit      *unit
	target    string // possibly qualified name to look up
	scope     string
	argc      int
	inError   bool
	resolved  bool
	reference *node

	// function declarations
	params     int
	variadic   bool
	definition bool
}

var _ ast.Node = (*node)(nil)

func (n *node) Kind() ast.Kind         { return n.kind }
func (n *node) Spelling() string       { return n.spelling }
func (n *node) Location() ast.Location { return n.loc }
func (n *node) Type() string           { return n.typ }
func (n *node) Builtin() bool          { return n.builtin }
func (n *node) FileScope() bool        { return n.fileScope }
func (n *node) Children() []ast.Node   { return n.children }

func (n *node) Definition() (ast.Node, error) {
	switch n.kind {
	case ast.KindMacroExpansion, ast.KindMacroReference:
		if n.def == nil {
			return nil, nil
		}
		return n.def, nil
	case ast.KindMacroDefinition:
		return n, nil
	default:
		return nil, nil
	}
}

func (n *node) Referenced() (ast.Node, error) {
	switch n.kind {
	case ast.KindCallExpr, ast.KindDeclRefExpr:
	default:
		return nil, nil
	}
	if n.inError {
		return nil, &ast.QueryError{Kind: n.kind, Loc: n.loc, Query: "referenced", Err: errSyntaxRegion}
	}
	if !n.resolved {
		n.reference = n.unit.resolve(n)
		n.resolved = true
	}
	if n.reference == nil {
		return nil, nil
	}
	return n.reference, nil
}

// unit is the symbol table of one translation unit.
type unit struct {
	funcs   map[string][]*node
	vars    map[string][]*node
	classes map[string]bool
}

func newUnit() *unit {
	return &unit{
		funcs:   make(map[string][]*node),
		vars:    make(map[string][]*node),
		classes: make(map[string]bool),
	}
}

func (u *unit) addFunc(qualified string, n *node) {
	u.funcs[qualified] = append(u.funcs[qualified], n)
}

func (u *unit) addVar(qualified string, n *node) {
	u.vars[qualified] = append(u.vars[qualified], n)
}

// resolve finds the declaration a call or reference names, searching the
// enclosing namespaces from the innermost outwards.
func (u *unit) resolve(ref *node) *node {
	name := ref.target
	if name == "" {
		name = ref.spelling
	}
	for _, key := range lookupKeys(ref.scope, name) {
		if ref.kind == ast.KindDeclRefExpr {
			if vars := u.vars[key]; len(vars) > 0 {
				return pickVar(vars)
			}
		}
		if funcs := u.funcs[key]; len(funcs) > 0 {
			return pickFunc(funcs, ref.argc)
		}
	}
	return nil
}

func lookupKeys(scope, name string) []string {
	if strings.HasPrefix(name, "::") {
		return []string{strings.TrimPrefix(name, "::")}
	}
	var keys []string
	for scope != "" {
		keys = append(keys, scope+"::"+name)
		i := strings.LastIndex(scope, "::")
		if i < 0 {
			break
		}
		scope = scope[:i]
	}
	return append(keys, name)
}

func pickVar(vars []*node) *node {
	for _, v := range vars {
		if v.definition {
			return v
		}
	}
	return vars[0]
}

// pickFunc narrows overloads by argument count. A call that still matches
// several signatures is ambiguous and resolves to nothing.
func pickFunc(funcs []*node, argc int) *node {
	matching := funcs
	if argc >= 0 {
		matching = nil
		for _, f := range funcs {
			if f.params == argc || (f.variadic && argc >= f.params) {
				matching = append(matching, f)
			}
		}
		if len(matching) == 0 {
			matching = funcs
		}
	}

	sig := matching[0].typ
	for _, f := range matching[1:] {
		if f.typ != sig {
			return nil
		}
	}
	for _, f := range matching {
		if f.definition {
			return f
		}
	}
	return matching[0]
}
