package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/popflow/internal/analysis"
	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

func testResult() *analysis.Result {
	obs := []model.Observation{
		{SeriesID: "PRS30006032", Year: 2016, Period: "Q01", Value: model.Some(1.7)},
		{SeriesID: "PRS30006032", Year: 2017, Period: "Q01", Value: model.Some(0.5)},
		{SeriesID: "PRS30006032", Year: 2018, Period: "Q01", Value: model.Missing()},
		{SeriesID: "PRS30006032", Year: 2019, Period: "Q01", Value: model.Some(-1.6)},
		{SeriesID: "PRS30006011", Year: 2016, Period: "Q02", Value: model.Some(3)},
	}
	pop := []model.PopulationRecord{
		{Year: 2016, Nation: "United States", NationID: "01000US", Population: model.Some(323127515)},
		{Year: 2017, Nation: "United States", NationID: "01000US", Population: model.Some(325719178)},
		{Year: 2018, Nation: "United States", NationID: "01000US", Population: model.Some(327167439)},
		{Year: 2019, Nation: "United States", NationID: "01000US", Population: model.Missing()},
	}
	return analysis.Analyze(obs, pop, analysis.Options{
		Filter:         model.JoinFilter{SeriesID: "PRS30006032", Period: "Q01"},
		PopulationFrom: 2016,
		PopulationTo:   2018,
	})
}

func testData() Data {
	return Data{
		Title: "Data Analytics",
		Sources: []Source{
			{Name: "Time series", URL: "https://download.bls.gov/pub/time.series/pr/pr.data.0.Current"},
			{Name: "Population", URL: "https://datausa.io/api/data?drilldowns=Nation&measures=Population"},
		},
		Result: testResult(),
		Chart:  true,
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, testData()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>Data Analytics</title>")
	assert.Contains(t, out, "PRS30006011")
	assert.Contains(t, out, "<td>2019</td><td class=\"text\">PRS30006032</td><td class=\"text\">Q01</td><td>-1.6</td><td>n/a</td>")
	assert.Contains(t, out, "Year filter: all years.")
	assert.Contains(t, out, "<svg")
	assert.NotContains(t, out, "<?xml")
	assert.NotContains(t, out, "<script")
	// Query strings in source links are attribute-escaped.
	assert.Contains(t, out, "drilldowns=Nation&amp;measures=Population")
}

func TestRender_Deterministic(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, Render(&first, testData()))
	require.NoError(t, Render(&second, testData()))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestRender_EmptyResult(t *testing.T) {
	data := testData()
	data.Result = analysis.Analyze(nil, nil, analysis.Options{
		Filter: model.JoinFilter{SeriesID: "PRS30006032", Period: "Q01", Year: 2018},
	})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, data))
	out := buf.String()
	assert.Contains(t, out, "No matching rows.")
	assert.Contains(t, out, "No series with values.")
	assert.Contains(t, out, "Year filter: 2018.")
	assert.NotContains(t, out, "<svg")
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	paths, err := Write(dir, testData(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, HTMLFile), filepath.Join(dir, WorkbookFile)}, paths)
	first, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	paths, err = Write(dir, testData(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, HTMLFile)}, paths)
	second, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWrite_RenderFailureKeepsPreviousReports(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{HTMLFile, WorkbookFile} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("previous"), 0o644))
	}

	_, err := Write(dir, Data{Title: "broken"}, true)
	require.Error(t, err)

	for _, name := range []string{HTMLFile, WorkbookFile} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, "previous", string(got), name)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWrite_WorkbookFailureKeepsPreviousReport(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, HTMLFile)
	require.NoError(t, os.WriteFile(htmlPath, []byte("previous"), 0o644))
	// A directory in the workbook's place makes the rename fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, WorkbookFile), 0o755))

	_, err := Write(dir, testData(), true)
	assert.ErrorIs(t, err, common.ErrFileSystem)

	got, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestWrite_FileSystemError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	_, err := Write(blocker, testData(), false)
	assert.ErrorIs(t, err, common.ErrFileSystem)
}

func TestWorkbook(t *testing.T) {
	data, err := Workbook(testResult())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetPopulation, SheetBestYears, SheetJoined}, f.GetSheetList())

	joined, err := f.GetRows(SheetJoined)
	require.NoError(t, err)
	require.Len(t, joined, 5)
	assert.Equal(t, []string{"Year", "Series", "Period", "Value", "Population"}, joined[0])
	assert.Equal(t, []string{"2016", "PRS30006032", "Q01", "1.7", "323127515"}, joined[1])
	// Missing value stays blank.
	assert.Equal(t, []string{"2018", "PRS30006032", "Q01", "", "327167439"}, joined[3])

	best, err := f.GetRows(SheetBestYears)
	require.NoError(t, err)
	require.Len(t, best, 3)
	assert.Equal(t, "PRS30006011", best[1][0])

	pop, err := f.GetRows(SheetPopulation)
	require.NoError(t, err)
	require.Len(t, pop, 2)
	assert.Equal(t, []string{"2016", "2018", "3"}, pop[1][:3])
}

func TestWriteIndex(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"dataset1/pr.data.0.Current":      "series_id\n",
		"dataset2/usa_population.json":    "{}",
		"reports/report.html":             "<html></html>",
		".popflow/cache.db":               "sqlite",
		"dataset1/.pr.data.0.Current.tmp": "partial",
	} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	require.NoError(t, WriteIndex(dir, ""))
	index, err := os.ReadFile(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	out := string(index)

	first := strings.Index(out, `href="dataset1/pr.data.0.Current"`)
	second := strings.Index(out, `href="dataset2/usa_population.json"`)
	third := strings.Index(out, `href="reports/report.html"`)
	require.True(t, first > 0 && second > first && third > second, "files must be listed in path order")
	assert.NotContains(t, out, "cache.db")
	assert.NotContains(t, out, ".tmp")

	// Regenerating does not list the index itself.
	require.NoError(t, WriteIndex(dir, "https://example.com/data/"))
	index, err = os.ReadFile(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	out = string(index)
	assert.Contains(t, out, `href="https://example.com/data/reports/report.html"`)
	assert.NotContains(t, out, `index.html"`)
}

func TestYearTicks(t *testing.T) {
	ticks := yearTicks(2013.4, 2016)
	require.Len(t, ticks, 3)
	assert.Equal(t, "2014", ticks[0].Label)
	assert.Equal(t, "2016", ticks[2].Label)

	ticks = yearTicks(1995, 2024)
	labelled := 0
	for _, tick := range ticks {
		if tick.Label != "" {
			labelled++
		}
	}
	assert.LessOrEqual(t, labelled, maxYearTicks)
	assert.Equal(t, "1995", ticks[0].Label)

	assert.Empty(t, yearTicks(2013.2, 2013.8))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KiB", humanSize(1536))
	assert.Equal(t, "2.0 MiB", humanSize(2<<20))
}
