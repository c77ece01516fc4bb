package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/popflow/internal/pipeline"
)

func mirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Copy every file of the time series directory into the data folder",
		Long: `Download every file linked from sources.timeseries.dir_url into
data/dataset1, skipping files that are cached and unchanged, and delete
local files that are no longer listed. Requests are paced by
fetch.requests_per_minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			runner := pipeline.New(cfg, pipeline.Options{
				Stdout:   cmd.OutOrStdout(),
				Progress: cmd.ErrOrStderr(),
			})
			_, err = runner.Mirror(cmd.Context())
			return err
		},
	}

	cmd.Flags().Int("rpm", 0, "requests per minute (default from fetch.requests_per_minute)")
	_ = viper.BindPFlag("fetch.requests_per_minute", cmd.Flags().Lookup("rpm"))

	return cmd
}
