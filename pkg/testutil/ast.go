package testutil

import "github.com/panbanda/ccdead/pkg/ast"

// Node is a hand-built ast.Node for analyzer tests.
type Node struct {
	K         ast.Kind
	Name      string
	Loc       ast.Location
	Typ       string
	Def       *Node
	Ref       *Node
	Err       error
	IsBuiltin bool
	Scope     bool
	Kids      []ast.Node
}

var _ ast.Node = (*Node)(nil)

func (n *Node) Kind() ast.Kind         { return n.K }
func (n *Node) Spelling() string       { return n.Name }
func (n *Node) Location() ast.Location { return n.Loc }
func (n *Node) Type() string           { return n.Typ }
func (n *Node) Builtin() bool          { return n.IsBuiltin }
func (n *Node) FileScope() bool        { return n.Scope }
func (n *Node) Children() []ast.Node   { return n.Kids }

func (n *Node) Definition() (ast.Node, error) {
	if n.Err != nil {
		return nil, n.Err
	}
	if n.Def == nil {
		return nil, nil
	}
	return n.Def, nil
}

func (n *Node) Referenced() (ast.Node, error) {
	if n.Err != nil {
		return nil, n.Err
	}
	if n.Ref == nil {
		return nil, nil
	}
	return n.Ref, nil
}

// At builds a location.
func At(file string, line, col int) ast.Location {
	return ast.Location{File: file, Line: line, Column: col}
}

// Unit builds a translation unit root.
func Unit(children ...*Node) *Node {
	kids := make([]ast.Node, len(children))
	for i, c := range children {
		kids[i] = c
	}
	return &Node{K: ast.KindTranslationUnit, Kids: kids}
}

func MacroDef(name string, loc ast.Location) *Node {
	return &Node{K: ast.KindMacroDefinition, Name: name, Loc: loc}
}

func MacroExp(def *Node, loc ast.Location) *Node {
	return &Node{K: ast.KindMacroExpansion, Name: def.Name, Loc: loc, Def: def}
}

func FuncDecl(name, sig string, loc ast.Location) *Node {
	return &Node{K: ast.KindFunctionDecl, Name: name, Typ: sig, Loc: loc, Scope: true}
}

// Call builds a call expression; callee may be nil for an unresolved call.
func Call(name string, callee *Node, loc ast.Location) *Node {
	return &Node{K: ast.KindCallExpr, Name: name, Ref: callee, Loc: loc}
}

func VarDecl(name, typ string, loc ast.Location, fileScope bool) *Node {
	return &Node{K: ast.KindVarDecl, Name: name, Typ: typ, Loc: loc, Scope: fileScope}
}

func DeclRef(target *Node, loc ast.Location) *Node {
	n := &Node{K: ast.KindDeclRefExpr, Loc: loc, Ref: target}
	if target != nil {
		n.Name = target.Name
	}
	return n
}

// With appends children and returns n.
func (n *Node) With(children ...*Node) *Node {
	for _, c := range children {
		n.Kids = append(n.Kids, c)
	}
	return n
}
