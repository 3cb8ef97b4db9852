package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/compdb"
	"github.com/panbanda/ccdead/pkg/models"
	"github.com/panbanda/ccdead/pkg/traverse"
)

// statsVariant holds each worker's traversal counters.
var statsVariant = analyzer.Variant("engine", "stats")

// UnitStats counts what one worker traversed.
type UnitStats struct {
	Units     int                  `json:"units"`
	Nodes     int                  `json:"nodes"`
	Recovered int                  `json:"recovered"`
	Failures  []models.UnitFailure `json:"failures,omitempty"`
}

// traverseUnits parses each task with one index and walks it with every
// analyzer. A unit that fails to parse is logged and counted; cancellation
// is checked between units.
func traverseUnits(ctx context.Context, idx ast.Index, tasks []compdb.Task, opts ast.ParseOptions,
	analyzers []analyzer.Analyzer, log zerolog.Logger, onUnit func(file string, err error),
) (UnitStats, error) {
	visitors := make([]traverse.Visitor, len(analyzers))
	for i, a := range analyzers {
		visitors[i] = a
	}

	var stats UnitStats
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Units++

		tree, err := idx.Parse(ctx, task.Args, opts)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			log.Warn().Err(err).Str("file", task.File).Msg("translation unit skipped")
			stats.Failures = append(stats.Failures, models.UnitFailure{File: task.File, Error: err.Error()})
			if onUnit != nil {
				onUnit(task.File, err)
			}
			continue
		}

		walked, err := traverse.Walk(ctx, tree.Root(), log.With().Str("unit", task.File).Logger(), visitors...)
		tree.Close()
		stats.Nodes += walked.Nodes
		stats.Recovered += walked.Recovered
		if err != nil {
			return stats, fmt.Errorf("%s: %w", task.File, err)
		}
		if onUnit != nil {
			onUnit(task.File, nil)
		}
	}
	return stats, nil
}

// storeResults writes every analyzer's records and the traversal stats to
// the worker's slot.
func storeResults(slot *store.Slot, analyzers []analyzer.Analyzer, stats UnitStats) error {
	for _, a := range analyzers {
		if err := a.Store(slot); err != nil {
			return fmt.Errorf("failed to store %s results: %w", a.Name(), err)
		}
	}
	if err := store.Save(slot, statsVariant, []UnitStats{stats}); err != nil {
		return fmt.Errorf("failed to store stats: %w", err)
	}
	return nil
}
