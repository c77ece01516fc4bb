// Package pipeline wires fetch, load, analysis and report into one run.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Veraticus/popflow/internal/analysis"
	"github.com/Veraticus/popflow/internal/cli"
	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/config"
	"github.com/Veraticus/popflow/internal/fetch"
	"github.com/Veraticus/popflow/internal/load"
	"github.com/Veraticus/popflow/internal/model"
	"github.com/Veraticus/popflow/internal/report"
	"github.com/Veraticus/popflow/internal/storage"
)

// Output file names under the report directory.
const (
	ReportHTML = report.HTMLFile
	ReportXLSX = report.WorkbookFile
)

// Options configures a Runner.
type Options struct {
	// Stdout receives the console summary; nil disables it.
	Stdout io.Writer
	// Progress receives download progress bars; nil disables them.
	Progress io.Writer
}

// Runner executes the pipeline for one configuration.
type Runner struct {
	cfg      *config.Config
	stdout   io.Writer
	progress io.Writer
}

// Outcome describes a successful run.
type Outcome struct {
	Result     *analysis.Result
	TimeSeries *fetch.Download
	Population *fetch.Download
	Outputs    []string
}

// New creates a runner. cfg must already be validated.
func New(cfg *config.Config, opts Options) *Runner {
	return &Runner{
		cfg:      cfg,
		stdout:   opts.Stdout,
		progress: opts.Progress,
	}
}

// Run fetches both sources, analyzes them and writes the report. Steps run in
// order and the first error aborts the run, so a fetch or parse failure never
// produces a report.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	manifest, err := r.openManifest(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = manifest.Close() }()

	downloader := fetch.NewDownloader(r.client(), fetch.DownloaderOptions{
		Manifest: manifest,
		MaxAge:   r.cfg.Fetch.MaxAge,
		Refresh:  r.cfg.Fetch.Refresh,
	})

	tsURL, err := r.cfg.TimeSeriesURL()
	if err != nil {
		return nil, err
	}

	common.LogInfo("Fetching time series", common.Fields{"url": tsURL})
	ts, err := downloader.Download(ctx, tsURL, r.cfg.TimeSeriesPath())
	if err != nil {
		return nil, fmt.Errorf("fetch time series: %w", err)
	}

	common.LogInfo("Fetching population", common.Fields{"url": r.cfg.Sources.Population.URL})
	pop, err := downloader.Download(ctx, r.cfg.Sources.Population.URL, r.cfg.PopulationPath())
	if err != nil {
		return nil, fmt.Errorf("fetch population: %w", err)
	}

	observations, err := load.ParseObservations(bytes.NewReader(ts.Body))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ts.Path, err)
	}
	population, err := load.ParsePopulation(bytes.NewReader(pop.Body))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", pop.Path, err)
	}
	common.LogDebug("Loaded sources", common.Fields{
		"observations": len(observations),
		"population":   len(population),
	})

	result := analysis.Analyze(observations, population, analysis.Options{
		Filter: model.JoinFilter{
			SeriesID: r.cfg.Analysis.SeriesID,
			Period:   r.cfg.Analysis.Period,
			Year:     r.cfg.Analysis.Year,
		},
		PopulationFrom: r.cfg.Analysis.PopulationFrom,
		PopulationTo:   r.cfg.Analysis.PopulationTo,
	})
	common.LogInfo("Analyzed sources", common.Fields{
		"series":      len(result.BestYears),
		"joined_rows": len(result.Joined),
	})

	outputs, err := r.writeOutputs(result, tsURL)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Result:     result,
		TimeSeries: ts,
		Population: pop,
		Outputs:    outputs,
	}
	if r.stdout != nil {
		cli.WriteRunSummary(r.stdout, cli.RunSummary{
			Result: result,
			Fetched: []cli.FetchLine{
				{Name: "Time series", Path: ts.Path, Download: ts},
				{Name: "Population", Path: pop.Path, Download: pop},
			},
			Outputs: outputs,
		})
	}
	return outcome, nil
}

// Mirror copies the whole time-series directory into the data folder.
func (r *Runner) Mirror(ctx context.Context) (*fetch.MirrorResult, error) {
	manifest, err := r.openManifest(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = manifest.Close() }()

	downloader := fetch.NewDownloader(r.client(), fetch.DownloaderOptions{
		Manifest: manifest,
		MaxAge:   r.cfg.Fetch.MaxAge,
		Refresh:  r.cfg.Fetch.Refresh,
		Limiter:  fetch.NewLimiter(r.cfg.Fetch.RequestsPerMinute),
	})

	result, err := downloader.Mirror(ctx, r.cfg.Sources.TimeSeries.DirURL, r.cfg.TimeSeriesDir())
	if err != nil {
		return result, fmt.Errorf("mirror %s: %w", r.cfg.Sources.TimeSeries.DirURL, err)
	}

	if r.cfg.Publish.Index {
		if err := report.WriteIndex(r.cfg.DataDir, r.cfg.Publish.BaseURL); err != nil {
			return result, err
		}
	}
	if r.stdout != nil {
		cli.WriteMirrorSummary(r.stdout, r.cfg.TimeSeriesDir(), result)
	}
	return result, nil
}

func (r *Runner) writeOutputs(result *analysis.Result, tsURL string) ([]string, error) {
	data := report.Data{
		Title: r.cfg.Report.Title,
		Sources: []report.Source{
			{Name: "Time series", URL: tsURL},
			{Name: "Population", URL: r.cfg.Sources.Population.URL},
		},
		Result: result,
		Chart:  r.cfg.Report.Chart,
	}
	outputs, err := report.Write(r.cfg.ReportDir(), data, r.cfg.Report.XLSX)
	if err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	common.LogInfo("Wrote report", common.Fields{"path": outputs[0], "files": len(outputs)})

	if r.cfg.Publish.Index {
		if err := report.WriteIndex(r.cfg.DataDir, r.cfg.Publish.BaseURL); err != nil {
			return outputs, fmt.Errorf("write index: %w", err)
		}
		outputs = append(outputs, filepath.Join(r.cfg.DataDir, report.IndexFile))
	}
	return outputs, nil
}

func (r *Runner) client() *fetch.Client {
	opts := fetch.Options{
		UserAgent: r.cfg.Fetch.UserAgent,
		Timeout:   r.cfg.Fetch.Timeout,
	}
	if r.cfg.Fetch.Progress {
		opts.Progress = r.progress
	}
	return fetch.NewClient(opts)
}

func (r *Runner) openManifest(ctx context.Context) (*storage.SQLiteStorage, error) {
	path := r.cfg.CachePath()
	store, err := storage.Open(ctx, path)
	if err != nil {
		common.LogError(err, "Failed to open download cache", common.Fields{"path": path})
		return nil, common.NewFileSystemError("open cache", path, err)
	}
	common.LogDebug("Opened download cache", common.Fields{"path": store.Path()})
	return store, nil
}
