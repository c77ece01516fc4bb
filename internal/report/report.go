// Package report renders the analysis result as a static HTML page and the
// supplementary workbook, and writes the index of published files.
package report

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strconv"

	"github.com/Veraticus/popflow/internal/analysis"
	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"value":      formatValue,
	"fixed":      formatFixed,
	"num":        formatNumber,
	"yearFilter": formatYearFilter,
}).ParseFS(templateFS, "templates/*.tmpl"))

// Source names one input of the report.
type Source struct {
	Name string
	URL  string
}

// Data is the input of Render.
type Data struct {
	Result  *analysis.Result
	Title   string
	Sources []Source
	// Chart adds an inline SVG chart of the joined values.
	Chart bool
}

type reportView struct {
	Result  *analysis.Result
	Title   string
	Chart   template.HTML
	Sources []Source
}

// Render writes the HTML report for data to w. The output depends only on
// data, so unchanged inputs give byte-identical pages.
func Render(w io.Writer, data Data) error {
	if data.Result == nil {
		return errors.New("render report: no analysis result")
	}

	view := reportView{
		Result:  data.Result,
		Title:   data.Title,
		Sources: data.Sources,
	}
	if data.Chart {
		svg, err := Chart(data.Result.Joined, data.Result.Filter)
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
		view.Chart = svg
	}

	if err := templates.ExecuteTemplate(w, "report.html.tmpl", view); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Files written into the report directory.
const (
	HTMLFile     = "report.html"
	WorkbookFile = "report.xlsx"
)

// Write renders report.html, and report.xlsx when workbook is set, and then
// replaces both files in dir. Nothing is written when rendering fails. The
// workbook is replaced before report.html. Paths are returned html first.
func Write(dir string, data Data, workbook bool) ([]string, error) {
	var html bytes.Buffer
	if err := Render(&html, data); err != nil {
		return nil, err
	}

	htmlPath := filepath.Join(dir, HTMLFile)
	if !workbook {
		if err := common.WriteFileAtomic(htmlPath, html.Bytes(), 0o644); err != nil {
			return nil, err
		}
		return []string{htmlPath}, nil
	}

	xlsx, err := Workbook(data.Result)
	if err != nil {
		return nil, err
	}
	xlsxPath := filepath.Join(dir, WorkbookFile)
	if err := common.WriteFileAtomic(xlsxPath, xlsx, 0o644); err != nil {
		return nil, err
	}
	if err := common.WriteFileAtomic(htmlPath, html.Bytes(), 0o644); err != nil {
		return nil, err
	}
	return []string{htmlPath, xlsxPath}, nil
}

func formatValue(v model.Value) string {
	if !v.Valid {
		return "n/a"
	}
	return v.String()
}

func formatFixed(v model.Value, prec int) string {
	if !v.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(v.Float, 'f', prec, 64)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatYearFilter(year int) string {
	if year == 0 {
		return "all years"
	}
	return strconv.Itoa(year)
}
