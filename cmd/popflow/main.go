package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/popflow/internal/cli"
	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/config"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "popflow",
		Short: "📊 BLS time series and population report builder",
		Long: `popflow downloads the BLS productivity time series and the US population
dataset, joins them by year and writes a static HTML report into the data folder.

Running popflow without a subcommand is the same as "popflow run".`,
		PersistentPreRunE: initConfig,
		RunE:              runPipeline,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
)

func init() {
	config.SetDefaults(viper.GetViper())

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/popflow/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("data-dir", "data", "folder for downloads and reports")
	rootCmd.PersistentFlags().Bool("refresh", false, "ignore the download cache")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("fetch.refresh", rootCmd.PersistentFlags().Lookup("refresh"))

	// Add commands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(mirrorCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	interrupts := cli.NewInterruptHandler(os.Stderr)
	ctx, stop := interrupts.HandleInterrupts(context.Background())

	err := rootCmd.ExecuteContext(ctx)
	stop() // Always cleanup

	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err.Error()))
		os.Exit(exitCode(interrupts.WasInterrupted()))
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	// Set up config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		// Search for config in standard locations
		viper.AddConfigPath(fmt.Sprintf("%s/.config/popflow", home))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("POPFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return common.NewUserError("failed to read config", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	return nil
}

func setupLogging(w io.Writer, cfg config.LoggingConfig) error {
	level, err := common.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	return common.SetupLogger(w, level, cfg.Format)
}

// loadConfig returns the validated configuration for a command and installs
// the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("invalid configuration", err)
	}
	if err := setupLogging(os.Stderr, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return cfg, nil
}

// exitCode follows the shell convention for a run stopped by SIGINT.
func exitCode(interrupted bool) int {
	if interrupted {
		return 130
	}
	return 1
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "popflow %s\n", version)
		},
	}
}
