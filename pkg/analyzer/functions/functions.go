// Package functions finds functions that are declared but never called.
package functions

import (
	"fmt"

	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/models"
)

// Name is the analysis name.
const Name = "functions"

// Policy decides what happens to calls whose callee cannot be resolved.
type Policy string

const (
	// PolicyUsed counts every declaration sharing the called name as used.
	PolicyUsed Policy = "used"
	// PolicyReport lists unresolved calls separately in the report.
	PolicyReport Policy = "report"
	// PolicyIgnore drops unresolved calls.
	PolicyIgnore Policy = "ignore"
)

// ParsePolicy validates a policy name. The empty string selects PolicyUsed.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyUsed, nil
	case PolicyUsed, PolicyReport, PolicyIgnore:
		return p, nil
	}
	return "", fmt.Errorf("unknown unresolved-call policy %q (want used, report or ignore)", s)
}

// Key groups declarations of one function.
type Key struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Decl is one declaration site.
type Decl struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	File      string `json:"file"`
}

func (d Decl) Key() Key { return Key{Name: d.Name, Signature: d.Signature} }

// Options configures the analyzer.
type Options struct {
	Filter     *analyzer.PathFilter
	Unresolved Policy
	// AddressTakenIsUse counts a non-call reference to a function, such as
	// taking its address, as a use.
	AddressTakenIsUse bool
}

// Analyzer collects function declarations and resolved callees.
type Analyzer struct {
	opts       Options
	decls      analyzer.Set[Decl]
	refs       analyzer.Set[Key]
	unresolved analyzer.Set[models.UnresolvedCall]
}

var _ analyzer.Analyzer = (*Analyzer)(nil)

func New(opts Options) *Analyzer {
	if opts.Unresolved == "" {
		opts.Unresolved = PolicyUsed
	}
	return &Analyzer{
		opts:       opts,
		decls:      analyzer.NewSet[Decl](),
		refs:       analyzer.NewSet[Key](),
		unresolved: analyzer.NewSet[models.UnresolvedCall](),
	}
}

func (a *Analyzer) Name() string { return Name }

func (a *Analyzer) Options() ast.ParseOptions { return ast.OptNone }

func (a *Analyzer) Visit(node ast.Node) error {
	switch node.Kind() {
	case ast.KindFunctionDecl:
		loc := node.Location()
		if !loc.Valid() || a.opts.Filter.Excluded(loc.File) {
			return nil
		}
		a.decls.Add(Decl{
			Name:      node.Spelling(),
			Signature: node.Type(),
			Line:      loc.Line,
			Column:    loc.Column,
			File:      loc.File,
		})
	case ast.KindCallExpr:
		target, err := node.Referenced()
		if err != nil {
			return err
		}
		if target == nil {
			a.unresolvedCall(node)
			return nil
		}
		a.reference(target)
	case ast.KindDeclRefExpr:
		if !a.opts.AddressTakenIsUse {
			return nil
		}
		target, err := node.Referenced()
		if err != nil {
			return err
		}
		if target != nil {
			a.reference(target)
		}
	}
	return nil
}

func (a *Analyzer) reference(target ast.Node) {
	if target.Kind() != ast.KindFunctionDecl {
		return
	}
	loc := target.Location()
	if !loc.Valid() || a.opts.Filter.Excluded(loc.File) {
		return
	}
	a.refs.Add(Key{Name: target.Spelling(), Signature: target.Type()})
}

func (a *Analyzer) unresolvedCall(node ast.Node) {
	if a.opts.Unresolved == PolicyIgnore || node.Spelling() == "" {
		return
	}
	loc := node.Location()
	a.unresolved.Add(models.UnresolvedCall{Name: node.Spelling(), File: loc.File, Line: loc.Line, Column: loc.Column})
}

func (a *Analyzer) Store(slot *store.Slot) error {
	if err := store.Save(slot, analyzer.Variant(Name, "decls"), a.decls.Slice()); err != nil {
		return err
	}
	if err := store.Save(slot, analyzer.Variant(Name, "refs"), a.refs.Slice()); err != nil {
		return err
	}
	return store.Save(slot, analyzer.Variant(Name, "unresolved"), a.unresolved.Slice())
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
	calls, err := store.Load[models.UnresolvedCall](st, analyzer.Variant(Name, "unresolved"))
	if err != nil {
		return nil, err
	}

	res := &analyzer.Result{}
	calledNames := analyzer.NewSet[string]()
	switch a.opts.Unresolved {
	case PolicyUsed:
		for _, c := range calls {
			calledNames.Add(c.Name)
		}
	case PolicyReport:
		seen := analyzer.NewSet[models.UnresolvedCall]()
		for _, c := range calls {
			if seen.Has(c) || a.opts.Filter.Excluded(c.File) {
				continue
			}
			seen.Add(c)
			res.Unresolved = append(res.Unresolved, c)
		}
	}

	sites := make(map[Key][]models.Site)
	keys := make([]Key, 0, len(decls))
	for _, d := range decls {
		if a.opts.Filter.Excluded(d.File) {
			continue
		}
		k := d.Key()
		keys = append(keys, k)
		sites[k] = append(sites[k], models.Site{File: d.File, Line: d.Line, Column: d.Column})
	}

	for _, k := range analyzer.Difference(keys, refs) {
		if calledNames.Has(k.Name) {
			continue
		}
		res.Findings = append(res.Findings, analyzer.GroupedFinding(Name, models.KindFunction, k.Name, k.Signature, sites[k]))
	}
	res.Sort()
	return res, nil
}
