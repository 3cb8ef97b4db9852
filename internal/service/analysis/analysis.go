// Package analysis runs the configured analyses over a set of translation
// units, either in-process or across worker processes, and merges the
// workers' partial results into one report.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/internal/fileproc"
	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/compdb"
	"github.com/panbanda/ccdead/pkg/config"
	"github.com/panbanda/ccdead/pkg/models"
)

// ErrIncomplete is returned when a worker failed and partial results are
// not allowed.
var ErrIncomplete = errors.New("analysis incomplete")

// WorkerCommand is the hidden subcommand a worker process runs.
const WorkerCommand = "__worker"

// WorkerArgs identifies one worker's share of a run.
type WorkerArgs struct {
	Dir         string
	Slice       int
	Fingerprint string
}

// Args returns the command line that makes the ccdead binary run as this
// worker.
func (w WorkerArgs) Args() []string {
	return []string{
		WorkerCommand,
		"--run", w.Dir,
		"--slice", strconv.Itoa(w.Slice),
		"--fingerprint", w.Fingerprint,
	}
}

// Launcher builds the command for one worker. The command must be created
// with exec.CommandContext(ctx, ...).
type Launcher func(ctx context.Context, w WorkerArgs) *exec.Cmd

// Service orchestrates analysis runs.
type Service struct {
	config       *config.Config
	fs           afero.Fs
	log          zerolog.Logger
	launcher     Launcher
	workerStderr io.Writer
	onUnit       func(file string, err error)
	onWorker     func(fileproc.Status)
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithFs sets the filesystem for the result store and, for the tree-sitter
// provider, for reading sources. Worker processes always use the OS
// filesystem, so multi-process runs need the default.
func WithFs(fs afero.Fs) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithLauncher replaces the re-exec of the current binary (for testing).
func WithLauncher(l Launcher) Option {
	return func(s *Service) {
		s.launcher = l
	}
}

// WithWorkerStderr forwards every worker's standard error to w.
func WithWorkerStderr(w io.Writer) Option {
	return func(s *Service) {
		s.workerStderr = w
	}
}

// WithUnitProgress is called after each translation unit of an in-process
// run.
func WithUnitProgress(fn func(file string, err error)) Option {
	return func(s *Service) {
		s.onUnit = fn
	}
}

// WithWorkerProgress is called as each worker process exits.
func WithWorkerProgress(fn func(fileproc.Status)) Option {
	return func(s *Service) {
		s.onWorker = fn
	}
}

// New creates a new analysis service.
func New(opts ...Option) *Service {
	s := &Service{
		config: config.LoadOrDefault(),
		fs:     afero.NewOsFs(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workers returns how many slices a run over n tasks uses. A result of 1
// means the run stays in-process.
func (s *Service) Workers(n int) int {
	count := s.config.Workers.Count
	if count <= 0 {
		count = runtime.NumCPU()
	}
	if !s.config.Workers.Parallel || count == 1 || n < count {
		return 1
	}
	return count
}

// Run analyzes tasks and returns the merged report. Cancelling ctx
// interrupts running workers; Run then returns ctx's error.
func (s *Service) Run(ctx context.Context, tasks []compdb.Task) (*models.Report, error) {
	start := time.Now()
	cfg := s.config

	analyzers, err := NewAnalyzers(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := NewProvider(cfg, s.fs, s.log)
	if err != nil {
		return nil, err
	}
	parseOpts, err := checkProvider(provider, analyzers)
	if err != nil {
		return nil, err
	}

	root := cfg.Store.Dir
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	st, err := store.Create(s.fs, root, "")
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Keep {
		defer func() {
			if err := st.Remove(); err != nil {
				s.log.Warn().Err(err).Str("dir", st.Dir()).Msg("failed to remove run directory")
			}
		}()
	} else {
		s.log.Info().Str("dir", st.Dir()).Msg("keeping run directory")
	}

	report := models.NewReport()
	report.Summary.Units = len(tasks)
	workers := s.Workers(len(tasks))
	report.Summary.Workers = workers

	log := s.log.With().Str("run", st.RunID()).Logger()
	if workers == 1 {
		log.Info().Int("units", len(tasks)).Msg("running in-process")
		if err := s.runInProcess(ctx, st, provider, tasks, analyzers, parseOpts, log); err != nil {
			return nil, err
		}
	} else {
		log.Info().Int("units", len(tasks)).Int("workers", workers).Msg("starting workers")
		failures, err := s.runWorkers(ctx, st, tasks, workers, log)
		if err != nil {
			return nil, err
		}
		report.Failures = failures
		report.Summary.FailedWorkers = len(failures)
		report.Partial = len(failures) > 0
	}

	if err := merge(st, analyzers, report); err != nil {
		return nil, err
	}
	report.Summary.Duration = time.Since(start)
	report.Sort()
	log.Info().Int("findings", len(report.Findings)).Dur("duration", report.Summary.Duration).Msg("analysis complete")
	return report, nil
}

func (s *Service) runInProcess(ctx context.Context, st *store.Store, provider ast.Provider, tasks []compdb.Task,
	analyzers []analyzer.Analyzer, parseOpts ast.ParseOptions, log zerolog.Logger,
) error {
	idx, err := provider.NewIndex()
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer idx.Close()

	stats, err := traverseUnits(ctx, idx, tasks, parseOpts, analyzers, log, s.onUnit)
	if err != nil {
		return err
	}
	return storeResults(st.Slot(0), analyzers, stats)
}

// runWorkers fans the tasks out to worker processes and invalidates the
// slots of every worker that failed.
func (s *Service) runWorkers(ctx context.Context, st *store.Store, tasks []compdb.Task, workers int,
	log zerolog.Logger,
) ([]models.WorkerFailure, error) {
	cfgJSON, err := json.Marshal(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	manifest := &store.Manifest{
		Workers:  workers,
		Analyses: s.config.Analysis.Analyses,
		Tasks:    tasks,
		Config:   cfgJSON,
	}
	if err := st.WriteManifest(manifest); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	launcher := s.launcher
	if launcher == nil {
		launcher, err = s.selfLauncher()
		if err != nil {
			return nil, err
		}
	}

	statuses, errs := fileproc.RunWorkers(ctx, workers, func(ctx context.Context, slice int) *exec.Cmd {
		return launcher(ctx, WorkerArgs{Dir: st.Dir(), Slice: slice, Fingerprint: manifest.Fingerprint})
	}, fileproc.PoolOptions{
		Timeout:   s.config.Workers.Timeout(),
		KillGrace: s.config.Workers.KillGrace(),
		Stderr:    s.workerStderr,
		Logger:    log,
		OnExit:    s.onWorker,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !errs.HasErrors() {
		return nil, nil
	}

	var failures []models.WorkerFailure
	for _, status := range statuses {
		if status.OK() {
			continue
		}
		we := &fileproc.WorkerError{Status: status}
		if err := st.Invalidate(status.Slice, we.Error()); err != nil {
			return nil, fmt.Errorf("failed to invalidate worker %d: %w", status.Slice, err)
		}
		slice, _ := fileproc.SliceAt(tasks, workers, status.Slice)
		failures = append(failures, models.WorkerFailure{
			Slice:    status.Slice,
			PID:      status.PID,
			ExitCode: status.ExitCode,
			Signal:   status.Signal,
			Duration: status.Duration,
			Tasks:    len(slice),
			Reason:   we.Error(),
			Stderr:   status.Stderr,
		})
	}

	if !s.config.Workers.AllowPartial {
		return nil, fmt.Errorf("%w: slices %v failed: %w", ErrIncomplete, errs.Slices(), errs)
	}
	log.Warn().Ints("slices", errs.Slices()).Msg("continuing with partial results")
	return failures, nil
}

// selfLauncher re-executes the running binary as a worker. Go cannot fork a
// running runtime, so every worker is a fresh process.
func (s *Service) selfLauncher() (Launcher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	level := s.log.GetLevel()
	return func(ctx context.Context, w WorkerArgs) *exec.Cmd {
		args := append(w.Args(), "--log-level", level.String())
		return exec.CommandContext(ctx, exe, args...)
	}, nil
}

// merge reduces every analyzer's partial results and the workers' stats
// into report.
func merge(st *store.Store, analyzers []analyzer.Analyzer, report *models.Report) error {
	for _, a := range analyzers {
		res, err := a.Merge(st)
		if err != nil {
			return fmt.Errorf("failed to merge %s: %w", a.Name(), err)
		}
		report.AddFindings(res.Findings...)
		report.Unresolved = append(report.Unresolved, res.Unresolved...)
		if _, ok := report.Summary.ByAnalysis[a.Name()]; !ok {
			report.Summary.ByAnalysis[a.Name()] = 0
		}
	}

	stats, err := store.Load[UnitStats](st, statsVariant)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	for _, ws := range stats {
		report.Summary.Nodes += ws.Nodes
		report.Summary.RecoveredErrors += ws.Recovered
		report.Summary.FailedUnits += len(ws.Failures)
		report.UnitFailures = append(report.UnitFailures, ws.Failures...)
	}
	return nil
}
