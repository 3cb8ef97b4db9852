package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/internal/fileproc"
	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/config"
)

// WorkerOptions configures RunWorker.
type WorkerOptions struct {
	WorkerArgs
	// Fs defaults to the OS filesystem.
	Fs     afero.Fs
	Logger zerolog.Logger
}

// RunWorker is the body of a worker process: it reads the run manifest,
// traverses its slice of the tasks with its own parser index and writes
// every analyzer's records to its slot. Nothing is written when the
// traversal is cancelled or fails.
func RunWorker(ctx context.Context, opts WorkerOptions) error {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := opts.Logger.With().Int("slice", opts.Slice).Logger()

	st, err := store.Open(fs, opts.Dir)
	if err != nil {
		return err
	}
	m, err := st.ReadManifest()
	if err != nil {
		return err
	}
	if opts.Fingerprint != "" && opts.Fingerprint != m.Fingerprint {
		return fmt.Errorf("%w: expected %s, manifest has %s", store.ErrFingerprint, opts.Fingerprint, m.Fingerprint)
	}

	cfg := config.DefaultConfig()
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, cfg); err != nil {
			return fmt.Errorf("failed to decode run config: %w", err)
		}
	}

	tasks, err := fileproc.SliceAt(m.Tasks, m.Workers, opts.Slice)
	if err != nil {
		return err
	}

	analyzers, err := NewAnalyzers(cfg)
	if err != nil {
		return err
	}
	provider, err := NewProvider(cfg, fs, log)
	if err != nil {
		return err
	}
	parseOpts, err := checkProvider(provider, analyzers)
	if err != nil {
		return err
	}
	idx, err := provider.NewIndex()
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer idx.Close()

	log.Debug().Int("units", len(tasks)).Msg("worker traversing")
	stats, err := traverseUnits(ctx, idx, tasks, parseOpts, analyzers, log, nil)
	if err != nil {
		return err
	}
	if err := storeResults(st.Slot(opts.Slice), analyzers, stats); err != nil {
		return err
	}
	log.Debug().Int("units", stats.Units).Int("nodes", stats.Nodes).
		Int("failed_units", len(stats.Failures)).Msg("worker done")
	return nil
}
