// Package analyzer defines the contract between the traversal engine and
// the whole-codebase analyses, plus the set and path helpers they share.
package analyzer

import (
	"sort"

	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/models"
)

// Analyzer accumulates facts from every node of every translation unit a
// worker traverses, persists them once per worker, and reduces all
// workers' facts after the join.
type Analyzer interface {
	// Name identifies the analysis in stores, reports and logs.
	Name() string

	// Options are the parse options the analysis needs.
	Options() ast.ParseOptions

	// Visit inspects one node. It only touches the analyzer's own state.
	Visit(node ast.Node) error

	// Store writes the accumulated records to the worker's slot.
	Store(slot *store.Slot) error

	// Merge loads every valid worker's records, reduces them and returns
	// the findings. It runs once, in the parent, after all workers exit.
	Merge(st *store.Store) (*Result, error)
}

// Result is one analysis' contribution to the report.
type Result struct {
	Findings   []models.Finding
	Unresolved []models.UnresolvedCall
}

// Sort orders findings by location, name and signature, and unresolved
// calls by location and name.
func (r *Result) Sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Site() != b.Site() {
			return a.Site().Less(b.Site())
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Signature < b.Signature
	})
	sort.SliceStable(r.Unresolved, func(i, j int) bool {
		a, b := r.Unresolved[i], r.Unresolved[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Name < b.Name
	})
}

// Variant returns the store variant for one record kind of an analysis.
func Variant(analysis, kind string) string {
	return analysis + "." + kind
}

// CombinedOptions returns the parse options for a traversal shared by
// several analyzers.
func CombinedOptions(analyzers []Analyzer) ast.ParseOptions {
	opts := make([]ast.ParseOptions, len(analyzers))
	for i, a := range analyzers {
		opts[i] = a.Options()
	}
	return ast.CombineOptions(opts...)
}

// GroupedFinding builds the finding for a key declared at one or more
// sites. Duplicate sites collapse; the earliest site is the primary location.
func GroupedFinding(analysis, kind, name, signature string, sites []models.Site) models.Finding {
	unique := NewSet[models.Site]()
	for _, s := range sites {
		unique.Add(s)
	}
	sorted := unique.Slice()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	f := models.Finding{
		Analysis:  analysis,
		Kind:      kind,
		Name:      name,
		Signature: signature,
		Sites:     sorted,
	}
	if len(sorted) > 0 {
		f.File, f.Line, f.Column = sorted[0].File, sorted[0].Line, sorted[0].Column
	}
	return f
}
