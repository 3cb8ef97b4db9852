package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/panbanda/ccdead/internal/fileproc"
	"github.com/panbanda/ccdead/internal/output"
	"github.com/panbanda/ccdead/internal/progress"
	"github.com/panbanda/ccdead/internal/service/analysis"
	"github.com/panbanda/ccdead/pkg/compdb"
	"github.com/panbanda/ccdead/pkg/config"
	"github.com/panbanda/ccdead/pkg/models"
)

var analyzeCmd = &cobra.Command{
	Use:     "analyze [compile_commands.json | dir]",
	Aliases: []string{"a"},
	Short:   "Report unused macros, functions and globals",
	Long: `Analyzes every C/C++ translation unit of a compilation database.

The argument is the database file or a directory containing
compile_commands.json; it defaults to the current directory.

Examples:
  ccdead analyze build/                      # All analyses, one worker per CPU
  ccdead analyze -j 8 -f json -o dead.json   # Eight workers, JSON report
  ccdead analyze --analyses macros           # Only unused macros`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringP("format", "f", "", "Output format: text, json, markdown, toon, yaml")
	f.StringP("output", "o", "", "Write output to file")
	f.IntP("workers", "j", 0, "Worker processes (0 = number of CPUs)")
	f.Bool("no-parallel", false, "Analyze in-process without worker processes")
	f.Bool("allow-partial", false, "Report partial results when workers fail")
	f.StringSlice("analyses", nil, "Analyses to run: macros, functions, globals")
	f.String("provider", "", "AST provider: treesitter, clang")
	f.StringSlice("exclude", nil, "Glob patterns of source files to skip")
	f.String("store-dir", "", "Directory for run stores")
	f.Bool("keep-store", false, "Keep the run store after merging")
	f.Int("timeout", 0, "Per-worker timeout in seconds (0 = none)")
	f.Bool("no-progress", false, "Disable the progress bar")
	f.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(analyzeCmd)
}

// applyFlags overrides cfg with every analyze flag the user set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if f.Changed("workers") {
		cfg.Workers.Count, _ = f.GetInt("workers")
	}
	if f.Changed("no-parallel") {
		noParallel, _ := f.GetBool("no-parallel")
		cfg.Workers.Parallel = !noParallel
	}
	if f.Changed("allow-partial") {
		cfg.Workers.AllowPartial, _ = f.GetBool("allow-partial")
	}
	if f.Changed("analyses") {
		cfg.Analysis.Analyses, _ = f.GetStringSlice("analyses")
	}
	if f.Changed("provider") {
		cfg.Analysis.Provider, _ = f.GetString("provider")
	}
	if f.Changed("exclude") {
		patterns, _ := f.GetStringSlice("exclude")
		cfg.Exclude.Patterns = append(cfg.Exclude.Patterns, patterns...)
	}
	if f.Changed("store-dir") {
		cfg.Store.Dir, _ = f.GetString("store-dir")
	}
	if f.Changed("keep-store") {
		cfg.Store.Keep, _ = f.GetBool("keep-store")
	}
	if f.Changed("timeout") {
		cfg.Workers.TimeoutSeconds, _ = f.GetInt("timeout")
	}
	if f.Changed("no-color") {
		noColor, _ := f.GetBool("no-color")
		cfg.Output.Color = !noColor
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	result, err := config.LoadConfig(loadOptions()...)
	if err != nil {
		return err
	}
	cfg := result.Config
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if result.Source != "" {
		logger.Debug().Str("config", result.Source).Msg("loaded configuration")
	}

	tasks, err := compdb.Load(path, compdb.Options{Exclude: cfg.Exclude.Patterns, Logger: logger})
	if err != nil {
		return err
	}

	opts := []analysis.Option{
		analysis.WithConfig(cfg),
		analysis.WithLogger(logger),
	}
	if verbose || logLevel != "" {
		opts = append(opts, analysis.WithWorkerStderr(os.Stderr))
	}

	// Worker and unit callbacks only fire for the matching mode.
	var tracker *progress.Tracker
	opts = append(opts,
		analysis.WithUnitProgress(func(_ string, err error) {
			if tracker != nil {
				tracker.TickResult(err)
			}
		}),
		analysis.WithWorkerProgress(func(s fileproc.Status) {
			if tracker != nil {
				tracker.TickResult(s.Err)
			}
		}),
	)
	svc := analysis.New(opts...)

	if noProgress, _ := cmd.Flags().GetBool("no-progress"); !noProgress {
		if n := svc.Workers(len(tasks)); n == 1 {
			tracker = progress.NewTracker("Analyzing translation units...", len(tasks))
		} else {
			tracker = progress.NewTracker(fmt.Sprintf("Running %d workers...", n), n)
		}
	}

	report, err := svc.Run(ctx, tasks)
	if tracker != nil {
		if err != nil {
			tracker.FinishError(err)
		} else {
			tracker.FinishSuccess()
		}
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	formatter, err := output.NewFormatter(output.ParseFormat(cfg.Output.Format),
		outputFile(cmd), cfg.Output.Color && !color.NoColor)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if err := formatter.Output(output.NewFindingsView(report)); err != nil {
		return err
	}
	notices := output.NewWriterFormatter(output.FormatText, cmd.ErrOrStderr(), cfg.Output.Color && !color.NoColor)
	reportNotices(notices, report, outputFile(cmd))
	return nil
}

// reportNotices prints the status lines that follow a report.
func reportNotices(f *output.Formatter, report *models.Report, path string) {
	if report.Partial {
		f.Warning("%d of %d workers failed; results are partial",
			report.Summary.FailedWorkers, report.Summary.Workers)
	}
	if path != "" {
		f.Success("Report written to %s (%d findings)", path, len(report.Findings))
	}
}

func outputFile(cmd *cobra.Command) string {
	out, _ := cmd.Flags().GetString("output")
	return out
}
