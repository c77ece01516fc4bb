package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/popflow/internal/config"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)
	assert.Equal(t, "popflow dev\n", out.String())
}

func TestRootCommandTree(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "mirror", "version"}, names)

	for _, flag := range []string{"config", "log-level", "log-format", "data-dir", "refresh"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "PRS30006032", cfg.Analysis.SeriesID)
	assert.Equal(t, "Q01", cfg.Analysis.Period)
	assert.Equal(t, 30, viper.GetInt("fetch.requests_per_minute"))
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	viper.Set("logging.level", "loud")
	t.Cleanup(func() { viper.Set("logging.level", "info") })

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	require.NoError(t, setupLogging(&out, config.LoggingConfig{Level: "warn", Format: "json"}))

	slog.Info("hidden")
	slog.Warn("shown", "file", "pr.data.0.Current")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
	assert.Contains(t, out.String(), `"file":"pr.data.0.Current"`)

	assert.Error(t, setupLogging(&out, config.LoggingConfig{Level: "loud"}))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(false))
	assert.Equal(t, 130, exitCode(true))
}
