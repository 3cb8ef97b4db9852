package analysis

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/ccdead/internal/fileproc"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/compdb"
	"github.com/panbanda/ccdead/pkg/config"
	"github.com/panbanda/ccdead/pkg/models"
	"github.com/panbanda/ccdead/pkg/testutil"
)

const (
	helperEnv    = "CCDEAD_TEST_WORKER"
	failSliceEnv = "CCDEAD_TEST_FAIL_SLICE"
)

// TestMain doubles as the worker binary: the multi-process tests re-execute
// the test binary with helperEnv set.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(helperWorker())
	}
	os.Exit(m.Run())
}

func helperWorker() int {
	args := os.Args
	for i, a := range args {
		if a == WorkerCommand {
			args = args[i+1:]
			break
		}
	}
	fs := flag.NewFlagSet(WorkerCommand, flag.ContinueOnError)
	var w WorkerArgs
	fs.StringVar(&w.Dir, "run", "", "")
	fs.IntVar(&w.Slice, "slice", -1, "")
	fs.StringVar(&w.Fingerprint, "fingerprint", "", "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if v := os.Getenv(failSliceEnv); v != "" && v == strconv.Itoa(w.Slice) {
		fmt.Fprintln(os.Stderr, "simulated worker crash")
		return 3
	}
	if err := RunWorker(context.Background(), WorkerOptions{WorkerArgs: w, Logger: zerolog.Nop()}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperLauncher(env ...string) Launcher {
	return func(ctx context.Context, w WorkerArgs) *exec.Cmd {
		args := append([]string{"-test.run=^$"}, w.Args()...)
		cmd := exec.CommandContext(ctx, os.Args[0], args...)
		cmd.Env = append(os.Environ(), append([]string{helperEnv + "=1"}, env...)...)
		return cmd
	}
}

var sources = map[string]string{
	"foo.h": `#define FOO 1
#define UNUSED 2
int helper(int x);
int use(void);
extern int counter;
`,
	"a.c": `#include "foo.h"
int counter = 0;
static int dead_global = 3;
int helper(int x) { return x + FOO; }
int main(void) { counter++; return helper(1); }
`,
	"b.c": `#include "foo.h"
static void unused_fn(void) {}
int use(void) { return counter; }
`,
	"c.c": `#include "foo.h"
int call_use(void) { return use() + helper(2); }
`,
}

func writeSources(t *testing.T, fs afero.Fs, dir string) []compdb.Task {
	t.Helper()
	testutil.CreateFileTree(t, fs, dir, sources)
	var tasks []compdb.Task
	for _, name := range []string{"a.c", "b.c", "c.c"} {
		file := filepath.Join(dir, name)
		tasks = append(tasks, compdb.Task{Args: []string{"cc", "-c", file}, Directory: dir, File: file})
	}
	return tasks
}

func testConfig(storeDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Dir = storeDir
	cfg.Workers.Parallel = false
	return cfg
}

func namesBy(report *models.Report, analysis string) []string {
	var out []string
	for _, f := range report.Findings {
		if f.Analysis == analysis {
			out = append(out, f.Name)
		}
	}
	slices.Sort(out)
	return out
}

func assertExpectedFindings(t *testing.T, report *models.Report) {
	t.Helper()
	assert.Equal(t, []string{"UNUSED"}, namesBy(report, "macros"))
	assert.Equal(t, []string{"call_use", "main", "unused_fn"}, namesBy(report, "functions"))
	assert.Equal(t, []string{"dead_global"}, namesBy(report, "globals"))
}

func TestRunInProcess(t *testing.T) {
	fs := afero.NewMemMapFs()
	tasks := writeSources(t, fs, "/proj")

	var units atomic.Int32
	svc := New(WithConfig(testConfig("/runs")), WithFs(fs), WithLogger(zerolog.Nop()),
		WithUnitProgress(func(string, error) { units.Add(1) }))

	report, err := svc.Run(context.Background(), tasks)
	require.NoError(t, err)
	assertExpectedFindings(t, report)

	unused := report.Findings[slices.IndexFunc(report.Findings, func(f models.Finding) bool { return f.Name == "UNUSED" })]
	assert.Equal(t, models.Site{File: "/proj/foo.h", Line: 2, Column: 9}, unused.Site())

	assert.Equal(t, 3, report.Summary.Units)
	assert.Equal(t, 1, report.Summary.Workers)
	assert.Zero(t, report.Summary.FailedUnits)
	assert.Positive(t, report.Summary.Nodes)
	assert.Equal(t, 1, report.Summary.ByAnalysis["macros"])
	assert.Equal(t, 3, report.Summary.ByAnalysis["functions"])
	assert.False(t, report.Partial)
	assert.Equal(t, int32(3), units.Load())

	entries, err := afero.ReadDir(fs, "/runs")
	require.NoError(t, err)
	assert.Empty(t, entries, "run directory should be removed")
}

func TestRunKeepsStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	tasks := writeSources(t, fs, "/proj")
	cfg := testConfig("/runs")
	cfg.Store.Keep = true

	_, err := New(WithConfig(cfg), WithFs(fs)).Run(context.Background(), tasks)
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, "/runs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runDir := filepath.Join("/runs", entries[0].Name())
	files := testutil.ListFiles(t, fs, runDir)
	assert.Contains(t, files, filepath.Join(runDir, "engine.stats", "0.json"))
	for _, f := range files {
		assert.Equal(t, "0.json", filepath.Base(f), "in-process runs only write slot 0")
	}
}

func TestRunCountsUnparsableUnits(t *testing.T) {
	fs := afero.NewMemMapFs()
	tasks := writeSources(t, fs, "/proj")
	tasks = append(tasks, compdb.Task{Args: []string{"cc", "-c", "/proj/missing.c"}, Directory: "/proj", File: "/proj/missing.c"})

	report, err := New(WithConfig(testConfig("/runs")), WithFs(fs)).Run(context.Background(), tasks)
	require.NoError(t, err)
	assertExpectedFindings(t, report)
	assert.Equal(t, 4, report.Summary.Units)
	assert.Equal(t, 1, report.Summary.FailedUnits)
	require.Len(t, report.UnitFailures, 1)
	assert.Equal(t, "/proj/missing.c", report.UnitFailures[0].File)
}

func TestRunSelectedAnalyses(t *testing.T) {
	fs := afero.NewMemMapFs()
	tasks := writeSources(t, fs, "/proj")
	cfg := testConfig("/runs")
	cfg.Analysis.Analyses = []string{"globals"}

	report, err := New(WithConfig(cfg), WithFs(fs)).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"dead_global"}, namesBy(report, "globals"))
	assert.Empty(t, namesBy(report, "functions"))
	assert.Equal(t, map[string]int{"globals": 1}, report.Summary.ByAnalysis)
}

func TestRunUnsupportedProvider(t *testing.T) {
	cfg := testConfig("/runs")
	cfg.Analysis.Provider = config.ProviderClang

	_, err := New(WithConfig(cfg), WithFs(afero.NewMemMapFs())).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ast.ErrUnsupportedOptions)
}

func TestRunCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	tasks := writeSources(t, fs, "/proj")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(WithConfig(testConfig("/runs")), WithFs(fs)).Run(ctx, tasks)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkers(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		parallel bool
		tasks    int
		want     int
	}{
		{"sequential", 4, false, 100, 1},
		{"fewer tasks than workers", 4, true, 3, 1},
		{"exactly enough tasks", 4, true, 4, 4},
		{"single worker", 1, true, 100, 1},
		{"cpu count", 0, true, 1 << 20, runtime.NumCPU()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Workers.Count = tt.count
			cfg.Workers.Parallel = tt.parallel
			assert.Equal(t, tt.want, New(WithConfig(cfg)).Workers(tt.tasks))
		})
	}
}

func TestNewAnalyzersUnknown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.Analyses = []string{"macros", "nope"}
	_, err := NewAnalyzers(cfg)
	assert.Error(t, err)
}

func TestWorkerArgs(t *testing.T) {
	w := WorkerArgs{Dir: "/runs/1", Slice: 2, Fingerprint: "abc"}
	assert.Equal(t, []string{"__worker", "--run", "/runs/1", "--slice", "2", "--fingerprint", "abc"}, w.Args())
}

func multiProcessConfig(t *testing.T) *config.Config {
	cfg := testConfig(filepath.Join(t.TempDir(), "runs"))
	cfg.Workers.Parallel = true
	cfg.Workers.Count = 2
	return cfg
}

func TestRunMultiProcessMatchesInProcess(t *testing.T) {
	dir := t.TempDir()
	tasks := writeSources(t, afero.NewOsFs(), dir)

	inProc, err := New(WithConfig(testConfig(filepath.Join(t.TempDir(), "runs")))).Run(context.Background(), tasks)
	require.NoError(t, err)

	var exited atomic.Int32
	multi, err := New(
		WithConfig(multiProcessConfig(t)),
		WithLauncher(helperLauncher()),
		WithWorkerProgress(func(fileproc.Status) { exited.Add(1) }),
	).Run(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, 2, multi.Summary.Workers)
	assert.Equal(t, int32(2), exited.Load())
	assert.Equal(t, inProc.Findings, multi.Findings)
	assert.Equal(t, inProc.Unresolved, multi.Unresolved)
	assert.Equal(t, inProc.Summary.Nodes, multi.Summary.Nodes)
	assert.Equal(t, inProc.Summary.ByAnalysis, multi.Summary.ByAnalysis)
	assertExpectedFindings(t, multi)
}

func TestRunWorkerCountDoesNotChangeResult(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	var header strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&header, "#define M%d %d\n", i, i)
	}
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "m.h"), []byte(header.String()), 0o644))

	var tasks []compdb.Task
	for i := 0; i < 8; i++ {
		next := (i + 1) % 8
		src := fmt.Sprintf("#include \"m.h\"\nint f%d(void);\nstatic int local%d(void) { return 0; }\nint f%d(void) { return f%d()", next, i, i, next)
		if i%2 == 0 {
			src += fmt.Sprintf(" + M%d + local%d()", i, i)
		}
		src += "; }\n"
		file := filepath.Join(dir, fmt.Sprintf("u%d.c", i))
		require.NoError(t, afero.WriteFile(fs, file, []byte(src), 0o644))
		tasks = append(tasks, compdb.Task{Args: []string{"cc", "-c", file}, Directory: dir, File: file})
	}

	single, err := New(WithConfig(testConfig(filepath.Join(t.TempDir(), "runs")))).Run(context.Background(), tasks)
	require.NoError(t, err)

	cfg := multiProcessConfig(t)
	cfg.Workers.Count = 4
	multi, err := New(WithConfig(cfg), WithLauncher(helperLauncher())).Run(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, 1, single.Summary.Workers)
	assert.Equal(t, 4, multi.Summary.Workers)
	assert.Equal(t, single.Findings, multi.Findings)
	assert.Equal(t, []string{"M1", "M3", "M5", "M7"}, namesBy(multi, "macros"))
	assert.Equal(t, []string{"local1", "local3", "local5", "local7"}, namesBy(multi, "functions"))
}

func TestRunWorkerFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	tasks := writeSources(t, afero.NewOsFs(), dir)

	_, err := New(
		WithConfig(multiProcessConfig(t)),
		WithLauncher(helperLauncher(failSliceEnv+"=1")),
	).Run(context.Background(), tasks)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "slices [1]")

	var we *fileproc.WorkerError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, 3, we.ExitCode)
}

func TestRunAllowPartial(t *testing.T) {
	dir := t.TempDir()
	tasks := writeSources(t, afero.NewOsFs(), dir)
	cfg := multiProcessConfig(t)
	cfg.Workers.AllowPartial = true

	report, err := New(
		WithConfig(cfg),
		WithLauncher(helperLauncher(failSliceEnv+"=1")),
	).Run(context.Background(), tasks)
	require.NoError(t, err)

	assert.True(t, report.Partial)
	assert.Equal(t, 1, report.Summary.FailedWorkers)
	require.Len(t, report.Failures, 1)
	f := report.Failures[0]
	assert.Equal(t, 1, f.Slice)
	assert.Equal(t, 3, f.ExitCode)
	assert.Equal(t, 2, f.Tasks)
	assert.Contains(t, f.Stderr, "simulated worker crash")

	// only slice 0 (a.c) was merged, so b.c's declarations were never seen
	assert.Contains(t, namesBy(report, "functions"), "main")
	assert.NotContains(t, namesBy(report, "functions"), "unused_fn")
}

func TestRunWorkerRejectsFingerprint(t *testing.T) {
	dir := t.TempDir()
	tasks := writeSources(t, afero.NewOsFs(), dir)

	var failed atomic.Int32
	_, err := New(
		WithConfig(multiProcessConfig(t)),
		WithLauncher(func(ctx context.Context, w WorkerArgs) *exec.Cmd {
			w.Fingerprint = "0000000000000000"
			return helperLauncher()(ctx, w)
		}),
		WithWorkerProgress(func(s fileproc.Status) {
			if !s.OK() {
				failed.Add(1)
			}
		}),
	).Run(context.Background(), tasks)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, int32(2), failed.Load())
}
