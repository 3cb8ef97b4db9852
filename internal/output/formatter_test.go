package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/panbanda/ccdead/pkg/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"text", FormatText},
		{"TEXT", FormatText},
		{"json", FormatJSON},
		{"markdown", FormatMarkdown},
		{"md", FormatMarkdown},
		{"toon", FormatTOON},
		{"yaml", FormatYAML},
		{"yml", FormatYAML},
		{"", FormatText},
		{"unknown", FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseFormat(tt.input); got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewFormatterToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	f, err := NewFormatter(FormatJSON, path, true)
	if err != nil {
		t.Fatalf("NewFormatter() error: %v", err)
	}
	if f.Colored() {
		t.Error("file output should never be colored")
	}
	if err := f.Output(map[string]int{"n": 1}); err != nil {
		t.Fatalf("Output() error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"n": 1`) {
		t.Errorf("file content = %s", data)
	}
}

func TestNewFormatterStdout(t *testing.T) {
	f, err := NewFormatter(FormatText, "", false)
	if err != nil {
		t.Fatalf("NewFormatter() error: %v", err)
	}
	if f.Writer() != os.Stdout {
		t.Error("empty output should write to stdout")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() on stdout formatter: %v", err)
	}
}

func TestNewFormatterBadPath(t *testing.T) {
	_, err := NewFormatter(FormatJSON, filepath.Join(t.TempDir(), "missing", "out.json"), false)
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestTableRenderText(t *testing.T) {
	table := NewTable("Results",
		[]string{"File", "Status"},
		[][]string{{"a.c", "ok"}, {"b.c", "skipped"}},
		[]string{"Total", "2"},
		nil,
	)
	var buf bytes.Buffer
	if err := table.RenderText(&buf, false); err != nil {
		t.Fatalf("RenderText() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Results", "FILE", "STATUS", "a.c", "skipped", "Total"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderText() missing %q in:\n%s", want, out)
		}
	}
}

func TestTableRenderMarkdown(t *testing.T) {
	table := NewTable("Data", []string{"Name", "Signature"},
		[][]string{{"f", "int f(int a|b)"}}, nil, nil)
	var buf bytes.Buffer
	if err := table.RenderMarkdown(&buf); err != nil {
		t.Fatalf("RenderMarkdown() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"## Data", "| Name | Signature |", "| --- | --- |", `int f(int a\|b)`} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderMarkdown() missing %q in:\n%s", want, out)
		}
	}
}

func TestTableRenderData(t *testing.T) {
	t.Run("rows", func(t *testing.T) {
		table := NewTable("", []string{"A", "B", "C"}, [][]string{{"1", "2"}}, nil, nil)
		rows, ok := table.RenderData().([]map[string]string)
		if !ok {
			t.Fatalf("RenderData() type = %T", table.RenderData())
		}
		if len(rows[0]) != 2 || rows[0]["A"] != "1" || rows[0]["B"] != "2" {
			t.Errorf("RenderData() row = %v", rows[0])
		}
	})

	t.Run("data", func(t *testing.T) {
		table := NewTable("", []string{"A"}, nil, nil, []int{7})
		if got, ok := table.RenderData().([]int); !ok || got[0] != 7 {
			t.Errorf("RenderData() = %v", table.RenderData())
		}
	})
}

func TestSectionRender(t *testing.T) {
	s := &Section{Title: "Summary", Content: "Units: 3"}

	var text bytes.Buffer
	if err := s.RenderText(&text, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "Summary\n-------\nUnits: 3") {
		t.Errorf("RenderText() = %q", text.String())
	}

	var md bytes.Buffer
	if err := s.RenderMarkdown(&md); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md.String(), "## Summary\n\nUnits: 3") {
		t.Errorf("RenderMarkdown() = %q", md.String())
	}
}

func TestOutputStructuredFormats(t *testing.T) {
	data := struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
		Skip  string `json:"skip,omitempty"`
	}{Name: "FOO", Count: 3}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewWriterFormatter(FormatJSON, &buf, false).Output(data); err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
		}
		if got["name"] != "FOO" {
			t.Errorf("name = %v", got["name"])
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewWriterFormatter(FormatYAML, &buf, false).Output(data); err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
		}
		if got["name"] != "FOO" || got["count"] != 3 {
			t.Errorf("decoded = %v", got)
		}
		if _, ok := got["skip"]; ok {
			t.Error("omitempty field should be omitted in YAML")
		}
	})

	t.Run("toon", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewWriterFormatter(FormatTOON, &buf, false).Output(data); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if !strings.Contains(out, "name") || !strings.Contains(out, "FOO") {
			t.Errorf("TOON output = %q", out)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewWriterFormatter(FormatMarkdown, &buf, false).Output(data); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if !strings.HasPrefix(out, "```json\n") || !strings.HasSuffix(out, "```\n") {
			t.Errorf("markdown raw output = %q", out)
		}
	})
}

func TestJSONShapeKeepsIntegers(t *testing.T) {
	got, err := jsonShape(map[string]any{"n": 3, "f": 1.5})
	if err != nil {
		t.Fatal(err)
	}
	m := got.(map[string]any)
	if _, ok := m["n"].(int64); !ok {
		t.Errorf("n = %T, want int64", m["n"])
	}
	if _, ok := m["f"].(float64); !ok {
		t.Errorf("f = %T, want float64", m["f"])
	}
}

func sampleReport() *models.Report {
	r := models.NewReport()
	r.AddFindings(
		models.Finding{Analysis: "macros", Kind: "macro", Name: "UNUSED", File: "/p/foo.h", Line: 2, Column: 9},
		models.Finding{Analysis: "functions", Kind: "function", Name: "dead", Signature: "int dead(void)", File: "/p/a.c", Line: 4, Column: 1},
	)
	r.Unresolved = []models.UnresolvedCall{{Name: "ext", File: "/p/a.c", Line: 9, Column: 3}}
	r.UnitFailures = []models.UnitFailure{{File: "/p/bad.c", Error: "parse failed\nmore"}}
	r.Failures = []models.WorkerFailure{{Slice: 1, ExitCode: 3, Tasks: 2, Reason: "worker 1 exited with status 3"}}
	r.Partial = true
	r.Summary.Units = 4
	r.Summary.Workers = 2
	r.Summary.FailedWorkers = 1
	r.Summary.FailedUnits = 1
	r.Summary.Duration = 1500 * time.Millisecond
	r.Sort()
	return r
}

func TestFindingsViewText(t *testing.T) {
	var buf bytes.Buffer
	f := NewWriterFormatter(FormatText, &buf, false)
	if err := f.Output(NewFindingsView(sampleReport())); err != nil {
		t.Fatalf("Output() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Unused Macros (1)", "UNUSED", "/p/foo.h:2:9",
		"Unused Functions (1)", "int dead(void)",
		"Unresolved Calls (1)", "ext",
		"Skipped Translation Units (1)", "parse failed",
		"Failed Workers (1)", "exited with status 3",
		"Translation units: 4 (1 skipped)", "Workers: 2 (1 failed)",
		"Partial results",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Unused Globals") {
		t.Error("empty analyses should not get a table")
	}
	if strings.Contains(out, "more") {
		t.Error("unit failure errors should be cut to their first line")
	}
}

func TestFindingsViewEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFindingsView(models.NewReport()).RenderMarkdown(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "# Unused Declarations") || !strings.Contains(out, "No unused declarations found.") {
		t.Errorf("markdown output = %s", out)
	}
}

func TestFindingsViewJSONIsReport(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriterFormatter(FormatJSON, &buf, false).Output(NewFindingsView(sampleReport())); err != nil {
		t.Fatal(err)
	}
	var got models.Report
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Findings) != 2 || !got.Partial || got.Summary.Units != 4 {
		t.Errorf("decoded report = %+v", got)
	}
}

func TestKindColorPlainForUnknown(t *testing.T) {
	if got := KindColor("other", "x"); got != "x" {
		t.Errorf("KindColor() = %q", got)
	}
}

func TestMessageHelpers(t *testing.T) {
	var buf bytes.Buffer
	f := NewWriterFormatter(FormatText, &buf, false)
	f.Warning("%d workers failed", 2)
	f.Success("Report written to %s", "out.json")

	want := "WARNING: 2 workers failed\nReport written to out.json\n"
	if got := buf.String(); got != want {
		t.Errorf("messages = %q, want %q", got, want)
	}
}
