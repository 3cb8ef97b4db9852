// Package macros finds macros that are defined but never expanded.
package macros

import (
	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/models"
)

// Name is the analysis name.
const Name = "macros"

// Record identifies one macro definition.
type Record struct {
	Name   string `json:"name"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	File   string `json:"file"`
}

func recordOf(n ast.Node) Record {
	loc := n.Location()
	return Record{Name: n.Spelling(), Line: loc.Line, Column: loc.Column, File: loc.File}
}

// Options configures the analyzer.
type Options struct {
	Filter *analyzer.PathFilter
	// ConditionalUse counts a macro tested by #ifdef, #ifndef or defined()
	// as used.
	ConditionalUse bool
}

// Analyzer collects macro definitions and the definitions that expansions
// resolve to. Compiler-injected and builtin macros never take part.
type Analyzer struct {
	opts  Options
	decls analyzer.Set[Record]
	refs  analyzer.Set[Record]
}

var _ analyzer.Analyzer = (*Analyzer)(nil)

func New(opts Options) *Analyzer {
	return &Analyzer{
		opts:  opts,
		decls: analyzer.NewSet[Record](),
		refs:  analyzer.NewSet[Record](),
	}
}

func (a *Analyzer) Name() string { return Name }

func (a *Analyzer) Options() ast.ParseOptions {
	return ast.OptDetailedPreprocessingRecord | ast.OptSkipFunctionBodies
}

func (a *Analyzer) Visit(node ast.Node) error {
	switch node.Kind() {
	case ast.KindMacroDefinition:
		if node.Location().Valid() && !node.Builtin() {
			a.decls.Add(recordOf(node))
		}
	case ast.KindMacroExpansion:
		return a.reference(node)
	case ast.KindMacroReference:
		if a.opts.ConditionalUse {
			return a.reference(node)
		}
	}
	return nil
}

func (a *Analyzer) reference(node ast.Node) error {
	if node.Builtin() {
		return nil
	}
	def, err := node.Definition()
	if err != nil {
		return err
	}
	if def == nil || !def.Location().Valid() {
		return nil
	}
	a.refs.Add(recordOf(def))
	return nil
}

func (a *Analyzer) Store(slot *store.Slot) error {
	if err := store.Save(slot, analyzer.Variant(Name, "decls"), a.decls.Slice()); err != nil {
		return err
	}
	return store.Save(slot, analyzer.Variant(Name, "refs"), a.refs.Slice())
}

func (a *Analyzer) Merge(st *store.Store) (*analyzer.Result, error) {
	decls, err := store.Load[Record](st, analyzer.Variant(Name, "decls"))
	if err != nil {
		return nil, err
	}
	refs, err := store.Load[Record](st, analyzer.Variant(Name, "refs"))
	if err != nil {
		return nil, err
	}

	res := &analyzer.Result{}
	for _, r := range analyzer.Difference(decls, refs) {
		if a.opts.Filter.Excluded(r.File) {
			continue
		}
		res.Findings = append(res.Findings, models.Finding{
			Analysis: Name,
			Kind:     models.KindMacro,
			Name:     r.Name,
			File:     r.File,
			Line:     r.Line,
			Column:   r.Column,
		})
	}
	res.Sort()
	return res, nil
}
