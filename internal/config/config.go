// Package config provides configuration utilities for the application.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/spf13/viper"
)

// Default source locations.
const (
	DefaultTimeSeriesDirURL = "https://download.bls.gov/pub/time.series/pr/"
	DefaultTimeSeriesFile   = "pr.data.0.Current"
	DefaultPopulationURL    = "https://honolulu-api.datausa.io/tesseract/data.jsonrecords?cube=acs_yg_total_population_1&drilldowns=Year%2CNation&locale=en&measures=Population"
	DefaultPopulationFile   = "usa_population.json"
	DefaultUserAgent        = "Mozilla/5.0 (compatible; popflow/1.0; +https://github.com/Veraticus/popflow)"
)

// Config is the typed view of everything popflow reads from viper.
type Config struct {
	Sources  SourcesConfig
	Publish  PublishConfig
	Logging  LoggingConfig
	DataDir  string
	Report   ReportConfig
	Analysis AnalysisConfig
	Fetch    FetchConfig
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// FetchConfig controls HTTP behavior and the download cache.
type FetchConfig struct {
	UserAgent         string
	Timeout           time.Duration
	MaxAge            time.Duration
	RequestsPerMinute int
	Refresh           bool
	Progress          bool
}

// SourcesConfig locates both remote datasets.
type SourcesConfig struct {
	TimeSeries TimeSeriesSource
	Population PopulationSource
}

// TimeSeriesSource is an HTTP directory index and the file within it to analyze.
type TimeSeriesSource struct {
	DirURL string
	File   string
}

// PopulationSource is a single JSON endpoint and the local file name it is cached under.
type PopulationSource struct {
	URL  string
	File string
}

// AnalysisConfig holds the population window and the join filter.
type AnalysisConfig struct {
	SeriesID       string
	Period         string
	PopulationFrom int
	PopulationTo   int
	// Year restricts the join to a single year; zero joins every year.
	Year int
}

// ReportConfig controls report rendering.
type ReportConfig struct {
	Title string
	XLSX  bool
	Chart bool
}

// PublishConfig describes the static site the data folder is synced to.
type PublishConfig struct {
	// BaseURL prefixes links in index.html; empty means relative links.
	BaseURL string
	Index   bool
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.max_age", 24*time.Hour)
	v.SetDefault("fetch.requests_per_minute", 30)
	v.SetDefault("fetch.refresh", false)
	v.SetDefault("fetch.progress", true)

	v.SetDefault("sources.timeseries.dir_url", DefaultTimeSeriesDirURL)
	v.SetDefault("sources.timeseries.file", DefaultTimeSeriesFile)
	v.SetDefault("sources.population.url", DefaultPopulationURL)
	v.SetDefault("sources.population.file", DefaultPopulationFile)

	v.SetDefault("analysis.population.from", 2013)
	v.SetDefault("analysis.population.to", 2018)
	v.SetDefault("analysis.join.series_id", "PRS30006032")
	v.SetDefault("analysis.join.period", "Q01")
	v.SetDefault("analysis.join.year", 0)

	v.SetDefault("report.title", "Data Analytics")
	v.SetDefault("report.xlsx", true)
	v.SetDefault("report.chart", true)

	v.SetDefault("publish.base_url", "")
	v.SetDefault("publish.index", true)
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir: ExpandPath(v.GetString("data_dir")),
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Fetch: FetchConfig{
			UserAgent:         v.GetString("fetch.user_agent"),
			Timeout:           v.GetDuration("fetch.timeout"),
			MaxAge:            v.GetDuration("fetch.max_age"),
			RequestsPerMinute: v.GetInt("fetch.requests_per_minute"),
			Refresh:           v.GetBool("fetch.refresh"),
			Progress:          v.GetBool("fetch.progress"),
		},
		Sources: SourcesConfig{
			TimeSeries: TimeSeriesSource{
				DirURL: v.GetString("sources.timeseries.dir_url"),
				File:   v.GetString("sources.timeseries.file"),
			},
			Population: PopulationSource{
				URL:  v.GetString("sources.population.url"),
				File: v.GetString("sources.population.file"),
			},
		},
		Analysis: AnalysisConfig{
			PopulationFrom: v.GetInt("analysis.population.from"),
			PopulationTo:   v.GetInt("analysis.population.to"),
			SeriesID:       strings.TrimSpace(v.GetString("analysis.join.series_id")),
			Period:         strings.TrimSpace(v.GetString("analysis.join.period")),
			Year:           v.GetInt("analysis.join.year"),
		},
		Report: ReportConfig{
			Title: v.GetString("report.title"),
			XLSX:  v.GetBool("report.xlsx"),
			Chart: v.GetBool("report.chart"),
		},
		Publish: PublishConfig{
			BaseURL: v.GetString("publish.base_url"),
			Index:   v.GetBool("publish.index"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data_dir", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "console", "json", "":
	default:
		return fmt.Errorf("%w: logging.format must be console or json", common.ErrInvalidConfig)
	}
	if err := validateHTTPURL("sources.timeseries.dir_url", c.Sources.TimeSeries.DirURL); err != nil {
		return err
	}
	if err := validateHTTPURL("sources.population.url", c.Sources.Population.URL); err != nil {
		return err
	}
	if err := validateFileName("sources.timeseries.file", c.Sources.TimeSeries.File); err != nil {
		return err
	}
	if err := validateFileName("sources.population.file", c.Sources.Population.File); err != nil {
		return err
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("%w: fetch.timeout must be positive", common.ErrInvalidConfig)
	}
	if c.Fetch.MaxAge < 0 {
		return fmt.Errorf("%w: fetch.max_age cannot be negative", common.ErrInvalidConfig)
	}
	if c.Fetch.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: fetch.requests_per_minute must be positive", common.ErrInvalidConfig)
	}
	if c.Analysis.PopulationFrom > c.Analysis.PopulationTo {
		return fmt.Errorf("%w: analysis.population.from (%d) is after analysis.population.to (%d)",
			common.ErrInvalidConfig, c.Analysis.PopulationFrom, c.Analysis.PopulationTo)
	}
	if c.Analysis.SeriesID == "" {
		return fmt.Errorf("%w: analysis.join.series_id", common.ErrMissingConfig)
	}
	if c.Analysis.Period == "" {
		return fmt.Errorf("%w: analysis.join.period", common.ErrMissingConfig)
	}
	if c.Analysis.Year < 0 {
		return fmt.Errorf("%w: analysis.join.year cannot be negative", common.ErrInvalidConfig)
	}
	if c.Publish.BaseURL != "" {
		if err := validateHTTPURL("publish.base_url", c.Publish.BaseURL); err != nil {
			return err
		}
	}
	return nil
}

// TimeSeriesURL resolves the configured file against the directory index.
func (c *Config) TimeSeriesURL() (string, error) {
	base, err := url.Parse(c.Sources.TimeSeries.DirURL)
	if err != nil {
		return "", fmt.Errorf("%w: sources.timeseries.dir_url: %v", common.ErrInvalidConfig, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref, err := url.Parse(c.Sources.TimeSeries.File)
	if err != nil {
		return "", fmt.Errorf("%w: sources.timeseries.file: %v", common.ErrInvalidConfig, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// TimeSeriesDir is where time-series files are downloaded.
func (c *Config) TimeSeriesDir() string {
	return filepath.Join(c.DataDir, "dataset1")
}

// TimeSeriesPath is the local copy of the analyzed time-series file.
func (c *Config) TimeSeriesPath() string {
	return filepath.Join(c.TimeSeriesDir(), c.Sources.TimeSeries.File)
}

// PopulationPath is the local copy of the population dataset.
func (c *Config) PopulationPath() string {
	return filepath.Join(c.DataDir, "dataset2", c.Sources.Population.File)
}

// ReportDir holds the rendered report artifacts.
func (c *Config) ReportDir() string {
	return filepath.Join(c.DataDir, "reports")
}

// CachePath is the SQLite manifest of downloaded files.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, ".popflow", "cache.db")
}

func validateHTTPURL(key, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrInvalidConfig, key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s must be an http(s) URL", common.ErrInvalidConfig, key)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s has no host", common.ErrInvalidConfig, key)
	}
	return nil
}

func validateFileName(key, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, key)
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %s must be a plain file name", common.ErrInvalidConfig, key)
	}
	return nil
}
