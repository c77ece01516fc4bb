package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/popflow/internal/pipeline"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch both sources, analyze them and write the report",
		Long: `Fetch the time series file and the population dataset (reusing cached
copies younger than fetch.max_age), compute the statistics and write
data/reports/report.html, report.xlsx and data/index.html.

Any fetch, parse or write error aborts the run before a report is written.`,
		Args: cobra.NoArgs,
		RunE: runPipeline,
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner := pipeline.New(cfg, pipeline.Options{
		Stdout:   cmd.OutOrStdout(),
		Progress: cmd.ErrOrStderr(),
	})
	_, err = runner.Run(cmd.Context())
	return err
}
