// Package globals finds file-scope variables that are declared but never
// referenced.
package globals

import (
	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/models"
)

// Name is the analysis name.
const Name = "globals"

// Key groups the declarations of one variable (extern declarations and the
// definition).
type Key struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Decl struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	File   string `json:"file"`
}

type Options struct {
	Filter *analyzer.PathFilter
}

type Analyzer struct {
	opts  Options
	decls analyzer.Set[Decl]
	refs  analyzer.Set[Key]
}

var _ analyzer.Analyzer = (*Analyzer)(nil)

func New(opts Options) *Analyzer {
	return &Analyzer{
		opts:  opts,
		decls: analyzer.NewSet[Decl](),
		refs:  analyzer.NewSet[Key](),
	}
}

func (a *Analyzer) Name() string { return Name }

func (a *Analyzer) Options() ast.ParseOptions { return ast.OptNone }

func (a *Analyzer) Visit(node ast.Node) error {
	switch node.Kind() {
	case ast.KindVarDecl:
		if !a.tracked(node) {
			return nil
		}
		loc := node.Location()
		a.decls.Add(Decl{Name: node.Spelling(), Type: node.Type(), Line: loc.Line, Column: loc.Column, File: loc.File})
	case ast.KindDeclRefExpr:
		target, err := node.Referenced()
		if err != nil {
			return err
		}
		if target != nil && target.Kind() == ast.KindVarDecl && a.tracked(target) {
			a.refs.Add(Key{Name: target.Spelling(), Type: target.Type()})
		}
	}
	return nil
}

func (a *Analyzer) tracked(n ast.Node) bool {
	loc := n.Location()
	return n.FileScope() && loc.Valid() && !a.opts.Filter.Excluded(loc.File)
}

func (a *Analyzer) Store(slot *store.Slot) error {
	if err := store.Save(slot, analyzer.Variant(Name, "decls"), a.decls.Slice()); err != nil {
		return err
	}
	return store.Save(slot, analyzer.Variant(Name, "refs"), a.refs.Slice())
}

func (a *Analyzer) Merge(st *store.Store) (*analyzer.Result, error) {
	decls, err := store.Load[Decl](st, analyzer.Variant(Name, "decls"))
	if err != nil {
		return nil, err
	}
	refs, err := store.Load[Key](st, analyzer.Variant(Name, "refs"))
	if err != nil {
		return nil, err
	}

	sites := make(map[Key][]models.Site)
	keys := make([]Key, 0, len(decls))
	for _, d := range decls {
		if a.opts.Filter.Excluded(d.File) {
			continue
		}
		k := Key{Name: d.Name, Type: d.Type}
		keys = append(keys, k)
		sites[k] = append(sites[k], models.Site{File: d.File, Line: d.Line, Column: d.Column})
	}

	res := &analyzer.Result{}
	for _, k := range analyzer.Difference(keys, refs) {
		res.Findings = append(res.Findings, analyzer.GroupedFinding(Name, models.KindGlobal, k.Name, k.Type, sites[k]))
	}
	res.Sort()
	return res, nil
}
