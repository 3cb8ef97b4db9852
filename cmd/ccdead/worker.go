package main

import (
	"github.com/spf13/cobra"

	"github.com/panbanda/ccdead/internal/logging"
	"github.com/panbanda/ccdead/internal/service/analysis"
)

var workerArgs analysis.WorkerArgs

// workerCmd is what the parent re-executes for every slice of a
// multi-process run.
var workerCmd = &cobra.Command{
	Use:    analysis.WorkerCommand,
	Short:  "Analyze one slice of a run (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Worker stderr is captured by the parent, so never colorize it.
		log, err := logging.New(logging.Options{Level: logLevel, Verbose: verbose, NoColor: true})
		if err != nil {
			return err
		}
		return analysis.RunWorker(cmd.Context(), analysis.WorkerOptions{
			WorkerArgs: workerArgs,
			Logger:     log,
		})
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerArgs.Dir, "run", "", "Run directory")
	workerCmd.Flags().IntVar(&workerArgs.Slice, "slice", -1, "Slice index")
	workerCmd.Flags().StringVar(&workerArgs.Fingerprint, "fingerprint", "", "Expected manifest fingerprint")
	_ = workerCmd.MarkFlagRequired("run")
	_ = workerCmd.MarkFlagRequired("slice")

	rootCmd.AddCommand(workerCmd)
}
