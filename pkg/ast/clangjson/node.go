package clangjson

import (
	"github.com/panbanda/ccdead/pkg/ast"
)

// node adapts one dump node to ast.Node.
type node struct {
	kind      ast.Kind
	spelling  string
	loc       ast.Location
	typ       string
	fileScope bool
	children  []ast.Node

	unit  *unit
	refID string
}

var _ ast.Node = (*node)(nil)

func (n *node) Kind() ast.Kind         { return n.kind }
func (n *node) Spelling() string       { return n.spelling }
func (n *node) Location() ast.Location { return n.loc }
func (n *node) Type() string           { return n.typ }
func (n *node) Builtin() bool          { return false }
func (n *node) FileScope() bool        { return n.fileScope }
func (n *node) Children() []ast.Node   { return n.children }

func (n *node) Definition() (ast.Node, error) {
	return nil, nil
}

func (n *node) Referenced() (ast.Node, error) {
	if n.refID == "" {
		return nil, nil
	}
	target, ok := n.unit.byID[n.refID]
	if !ok {
		return nil, &ast.QueryError{Kind: n.kind, Loc: n.loc, Query: "referenced", Err: ErrDanglingReference}
	}
	return target, nil
}

type unit struct {
	byID map[string]*node
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

// build maps the dump, resolving reference ids lazily through the unit.
func build(root *dumpNode, opts ast.ParseOptions) *tree {
	u := &unit{byID: make(map[string]*node)}
	return &tree{root: u.convert(root, nil, opts)}
}

func (u *unit) convert(d *dumpNode, parent *dumpNode, opts ast.ParseOptions) *node {
	n := &node{
		kind:     mapKind(d.Kind),
		spelling: d.Name,
		typ:      d.Type.canonical(),
		unit:     u,
	}
	if l := d.Loc.expansion(); l.path() != "" && l.Line > 0 {
		n.loc = ast.Location{File: l.path(), Line: l.Line, Column: l.Col}
	}

	switch n.kind {
	case ast.KindTranslationUnit:
		n.loc = ast.Location{}
	case ast.KindVarDecl:
		n.fileScope = parent != nil && fileScopeParent(parent.Kind)
	case ast.KindDeclRefExpr:
		if r := d.ReferencedDecl; r != nil {
			n.refID = r.ID
			n.spelling = r.Name
		}
	case ast.KindCallExpr:
		if callee := calleeRef(d); callee != nil {
			n.refID = callee.ID
			n.spelling = callee.Name
		}
	case ast.KindMemberCallExpr:
		if len(d.Inner) > 0 {
			if m := unwrap(d.Inner[0]); m != nil && m.Kind == "MemberExpr" {
				n.refID = m.ReferencedMemberDecl
				n.spelling = m.Name
			}
		}
	}
	if d.IsImplicit {
		n.loc = ast.Location{}
	}
	if d.ID != "" {
		u.byID[d.ID] = n
	}

	skipBody := opts.Has(ast.OptSkipFunctionBodies) && (n.kind == ast.KindFunctionDecl || n.kind == ast.KindMethodDecl)
	for _, child := range d.Inner {
		if skipBody && child.Kind == "CompoundStmt" {
			continue
		}
		n.children = append(n.children, u.convert(child, d, opts))
	}
	return n
}

func mapKind(kind string) ast.Kind {
	switch kind {
	case "TranslationUnitDecl":
		return ast.KindTranslationUnit
	case "FunctionDecl":
		return ast.KindFunctionDecl
	case "CXXMethodDecl", "CXXConstructorDecl", "CXXDestructorDecl", "CXXConversionDecl":
		return ast.KindMethodDecl
	case "VarDecl":
		return ast.KindVarDecl
	case "CallExpr", "CXXOperatorCallExpr":
		return ast.KindCallExpr
	case "CXXMemberCallExpr":
		return ast.KindMemberCallExpr
	case "DeclRefExpr":
		return ast.KindDeclRefExpr
	default:
		return ast.KindOther
	}
}

func fileScopeParent(kind string) bool {
	switch kind {
	case "TranslationUnitDecl", "NamespaceDecl", "LinkageSpecDecl", "ExternCContextDecl":
		return true
	}
	return false
}

// calleeRef finds the declaration reference naming a call's callee through
// implicit casts and parentheses.
func calleeRef(call *dumpNode) *dumpNode {
	if len(call.Inner) == 0 {
		return nil
	}
	callee := unwrap(call.Inner[0])
	if callee == nil || callee.Kind != "DeclRefExpr" {
		return nil
	}
	return callee.ReferencedDecl
}

func unwrap(d *dumpNode) *dumpNode {
	for d != nil {
		switch d.Kind {
		case "ImplicitCastExpr", "ParenExpr", "CXXBindTemporaryExpr", "MaterializeTemporaryExpr", "ExprWithCleanups":
			if len(d.Inner) == 0 {
				return nil
			}
			d = d.Inner[0]
		default:
			return d
		}
	}
	return nil
}
