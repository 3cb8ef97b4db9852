package models

import (
	"sort"
	"time"
)

// Finding kinds.
const (
	KindMacro    = "macro"
	KindFunction = "function"
	KindGlobal   = "global"
)

// Site is one declaration location.
type Site struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Less orders sites by file, line and column.
func (s Site) Less(o Site) bool {
	if s.File != o.File {
		return s.File < o.File
	}
	if s.Line != o.Line {
		return s.Line < o.Line
	}
	return s.Column < o.Column
}

// Finding is one declared but unused symbol. File, Line and Column are the
// first declaration site; Sites lists every site when there is more than one.
type Finding struct {
	Analysis  string `json:"analysis"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Signature string `json:"signature,omitempty"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Sites     []Site `json:"sites,omitempty"`
}

// Site returns the finding's primary location.
func (f Finding) Site() Site {
	return Site{File: f.File, Line: f.Line, Column: f.Column}
}

// UnresolvedCall is a call whose callee could not be resolved to a
// declaration.
type UnresolvedCall struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// WorkerFailure describes a worker process that did not finish cleanly.
type WorkerFailure struct {
	Slice    int           `json:"slice"`
	PID      int           `json:"pid,omitempty"`
	ExitCode int           `json:"exit_code"`
	Signal   string        `json:"signal,omitempty"`
	Duration time.Duration `json:"duration"`
	Tasks    int           `json:"tasks"`
	Reason   string        `json:"reason"`
	Stderr   string        `json:"stderr,omitempty"`
}

// UnitFailure is a translation unit that could not be parsed.
type UnitFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Summary holds aggregate counts for a run.
type Summary struct {
	Units           int            `json:"units"`
	FailedUnits     int            `json:"failed_units"`
	Workers         int            `json:"workers"`
	FailedWorkers   int            `json:"failed_workers"`
	Nodes           int            `json:"nodes"`
	RecoveredErrors int            `json:"recovered_errors"`
	ByAnalysis      map[string]int `json:"by_analysis"`
	Duration        time.Duration  `json:"duration"`
}

// Report is the aggregated result of a run.
type Report struct {
	Findings     []Finding        `json:"findings"`
	Unresolved   []UnresolvedCall `json:"unresolved,omitempty"`
	UnitFailures []UnitFailure    `json:"unit_failures,omitempty"`
	Failures     []WorkerFailure  `json:"worker_failures,omitempty"`
	Partial      bool             `json:"partial"`
	Summary      Summary          `json:"summary"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		Findings:    []Finding{},
		Summary:     Summary{ByAnalysis: make(map[string]int)},
		GeneratedAt: time.Now().UTC(),
	}
}

// AddFindings appends findings and updates the per-analysis counts.
func (r *Report) AddFindings(fs ...Finding) {
	for _, f := range fs {
		r.Findings = append(r.Findings, f)
		r.Summary.ByAnalysis[f.Analysis]++
	}
}

// Sort orders findings by analysis, file, line, column and name, and
// unresolved calls by location.
func (r *Report) Sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Analysis != b.Analysis {
			return a.Analysis < b.Analysis
		}
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
		sa := Site{File: a.File, Line: a.Line, Column: a.Column}
		sb := Site{File: b.File, Line: b.Line, Column: b.Column}
		if sa != sb {
			return sa.Less(sb)
		}
		return a.Name < b.Name
	})
	sort.SliceStable(r.UnitFailures, func(i, j int) bool {
		return r.UnitFailures[i].File < r.UnitFailures[j].File
	})
	sort.SliceStable(r.Failures, func(i, j int) bool {
		return r.Failures[i].Slice < r.Failures[j].Slice
	})
}
