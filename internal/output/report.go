package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/panbanda/ccdead/pkg/models"
)

// analysisTitles are the section titles, in report order.
var analysisTitles = []struct {
	analysis string
	title    string
}{
	{"macros", "Unused Macros"},
	{"functions", "Unused Functions"},
	{"globals", "Unused Globals"},
}

// FindingsView renders a models.Report. Structured formats serialize the
// report itself.
type FindingsView struct {
	report *models.Report
}

func NewFindingsView(r *models.Report) *FindingsView {
	return &FindingsView{report: r}
}

func (v *FindingsView) RenderData() any {
	return v.report
}

func (v *FindingsView) RenderText(w io.Writer, colored bool) error {
	return v.compose(colored).RenderText(w, colored)
}

func (v *FindingsView) RenderMarkdown(w io.Writer) error {
	return v.compose(false).RenderMarkdown(w)
}

func (v *FindingsView) compose(colored bool) *Report {
	r := v.report
	out := &Report{Title: "Unused Declarations"}

	for _, a := range analysisTitles {
		rows := findingRows(r.Findings, a.analysis, colored)
		if len(rows) == 0 {
			continue
		}
		out.Sections = append(out.Sections, NewTable(
			fmt.Sprintf("%s (%d)", a.title, len(rows)),
			[]string{"Location", "Kind", "Name", "Signature", "Sites"},
			rows, nil, nil,
		))
	}
	if len(r.Findings) == 0 {
		out.Sections = append(out.Sections, &Section{Content: "No unused declarations found."})
	}

	if len(r.Unresolved) > 0 {
		rows := make([][]string, len(r.Unresolved))
		for i, u := range r.Unresolved {
			rows[i] = []string{location(u.File, u.Line, u.Column), u.Name}
		}
		out.Sections = append(out.Sections, NewTable(
			fmt.Sprintf("Unresolved Calls (%d)", len(rows)),
			[]string{"Location", "Callee"}, rows, nil, nil,
		))
	}

	if len(r.UnitFailures) > 0 {
		rows := make([][]string, len(r.UnitFailures))
		for i, f := range r.UnitFailures {
			rows[i] = []string{f.File, firstLine(f.Error)}
		}
		out.Sections = append(out.Sections, NewTable(
			fmt.Sprintf("Skipped Translation Units (%d)", len(rows)),
			[]string{"File", "Error"}, rows, nil, nil,
		))
	}

	if len(r.Failures) > 0 {
		rows := make([][]string, len(r.Failures))
		for i, f := range r.Failures {
			reason := f.Reason
			if colored {
				reason = color.RedString(reason)
			}
			rows[i] = []string{strconv.Itoa(f.Slice), strconv.Itoa(f.Tasks), reason}
		}
		out.Sections = append(out.Sections, NewTable(
			fmt.Sprintf("Failed Workers (%d)", len(rows)),
			[]string{"Slice", "Units", "Reason"}, rows, nil, nil,
		))
	}

	out.Sections = append(out.Sections, &Section{Title: "Summary", Content: summary(r)})
	return out
}

func findingRows(findings []models.Finding, analysis string, colored bool) [][]string {
	var rows [][]string
	for _, f := range findings {
		if f.Analysis != analysis {
			continue
		}
		name := f.Name
		if colored {
			name = KindColor(f.Kind, name)
		}
		sites := ""
		if len(f.Sites) > 1 {
			sites = strconv.Itoa(len(f.Sites))
		}
		rows = append(rows, []string{location(f.File, f.Line, f.Column), f.Kind, name, f.Signature, sites})
	}
	return rows
}

func summary(r *models.Report) string {
	var b strings.Builder
	s := r.Summary
	fmt.Fprintf(&b, "Translation units: %d (%d skipped)\n", s.Units, s.FailedUnits)
	fmt.Fprintf(&b, "Workers: %d (%d failed)\n", s.Workers, s.FailedWorkers)
	fmt.Fprintf(&b, "Nodes visited: %d\n", s.Nodes)
	if s.RecoveredErrors > 0 {
		fmt.Fprintf(&b, "Recovered query errors: %d\n", s.RecoveredErrors)
	}
	for _, a := range analysisTitles {
		if n, ok := s.ByAnalysis[a.analysis]; ok {
			fmt.Fprintf(&b, "%s: %d\n", a.title, n)
		}
	}
	fmt.Fprintf(&b, "Duration: %s", s.Duration.Round(time.Millisecond))
	if r.Partial {
		b.WriteString("\nPartial results: some workers failed")
	}
	return b.String()
}

func location(file string, line, col int) string {
	return fmt.Sprintf("%s:%d:%d", file, line, col)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
