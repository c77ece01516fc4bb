package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Veraticus/popflow/internal/analysis"
	"github.com/Veraticus/popflow/internal/fetch"
	"github.com/Veraticus/popflow/internal/model"
)

// RunSummary is what a pipeline run prints when it finishes.
type RunSummary struct {
	Result  *analysis.Result
	Fetched []FetchLine
	Outputs []string
}

// FetchLine describes how one input was obtained.
type FetchLine struct {
	Name     string
	Path     string
	Download *fetch.Download
}

// NewTable returns a rounded table writing to w. Footers keep their case.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(w)
	return t
}

// WriteRunSummary prints the headline statistics and the joined rows.
func WriteRunSummary(w io.Writer, s RunSummary) {
	_, _ = fmt.Fprintln(w, FormatTitle("Inputs"))
	for _, f := range s.Fetched {
		_, _ = fmt.Fprintln(w, FormatField(f.Name, f.Path+" "+SubtleStyle.Render("("+fetchStatus(f.Download)+")")))
	}
	_, _ = fmt.Fprintln(w)

	if s.Result != nil {
		writeStats(w, s.Result)
		writeJoined(w, s.Result)
	}

	if len(s.Outputs) > 0 {
		_, _ = fmt.Fprintln(w, FormatTitle("Outputs"))
		for _, path := range s.Outputs {
			_, _ = fmt.Fprintln(w, FormatSuccess(path))
		}
	}
}

// WriteMirrorSummary prints the outcome of a mirror.
func WriteMirrorSummary(w io.Writer, dir string, r *fetch.MirrorResult) {
	_, _ = fmt.Fprintln(w, FormatTitle("Mirror "+dir))

	t := NewTable(w)
	t.AppendHeader(table.Row{"File", "Status"})
	status := make(map[string]string, len(r.Listed)+len(r.Removed))
	for _, name := range r.Downloaded {
		status[name] = "downloaded"
	}
	for _, name := range r.Cached {
		status[name] = "up to date"
	}
	for _, name := range r.Listed {
		t.AppendRow(table.Row{name, status[name]})
	}
	for _, name := range r.Removed {
		t.AppendRow(table.Row{name, "removed"})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%d listed, %d downloaded, %d removed",
		len(r.Listed), len(r.Downloaded), len(r.Removed))})
	t.Render()
}

func writeStats(w io.Writer, r *analysis.Result) {
	pop := r.Population
	_, _ = fmt.Fprintln(w, FormatTitle(fmt.Sprintf("Population %d-%d", pop.FromYear, pop.ToYear)))
	_, _ = fmt.Fprintln(w, FormatField("Mean", fixed(pop.Mean, 2)))
	_, _ = fmt.Fprintln(w, FormatField("Standard deviation", fixed(pop.StdDev, 2)))
	_, _ = fmt.Fprintln(w)

	if len(r.BestYears) > 0 {
		_, _ = fmt.Fprintln(w, FormatTitle("Best year per series"))
		t := NewTable(w)
		t.AppendHeader(table.Row{"Series", "Best year", "Total", "Worst year", "Total"})
		for _, s := range r.BestYears {
			t.AppendRow(table.Row{s.SeriesID, s.BestYear, number(s.BestValue), s.WorstYear, number(s.WorstValue)})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
		})
		t.Render()
		_, _ = fmt.Fprintln(w)
	}
}

func writeJoined(w io.Writer, r *analysis.Result) {
	f := r.Filter
	title := fmt.Sprintf("%s %s joined with population", f.SeriesID, f.Period)
	if f.Year != 0 {
		title += " (" + strconv.Itoa(f.Year) + ")"
	}
	_, _ = fmt.Fprintln(w, FormatTitle(title))

	if len(r.Joined) == 0 {
		_, _ = fmt.Fprintln(w, FormatWarning("no year is present in both sources"))
		_, _ = fmt.Fprintln(w)
		return
	}

	t := NewTable(w)
	t.AppendHeader(table.Row{"Year", "Value", "Population"})
	for _, row := range r.Joined {
		t.AppendRow(table.Row{row.Year, value(row.Value), value(row.Population)})
	}

	stats := r.JoinedStats
	t.AppendFooter(table.Row{"Mean", fixed(stats.MeanValue, 4), ""})
	t.AppendFooter(table.Row{"Correlation", fixed(stats.Correlation, 4), strconv.Itoa(stats.Pairs) + " pairs"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()

	if stats.MaxValue.Valid {
		_, _ = fmt.Fprintln(w, FormatField("Highest value", stats.MaxValue.String()+" in "+strconv.Itoa(stats.MaxYear)))
		_, _ = fmt.Fprintln(w, FormatField("Lowest value", stats.MinValue.String()+" in "+strconv.Itoa(stats.MinYear)))
	}
	_, _ = fmt.Fprintln(w)
}

func fetchStatus(d *fetch.Download) string {
	switch {
	case d == nil:
		return "unknown"
	case d.FromCache:
		return "cached"
	case d.Revalidated:
		return "not modified"
	default:
		return "downloaded " + humanBytes(len(d.Body))
	}
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func value(v model.Value) string {
	if !v.Valid {
		return "n/a"
	}
	return v.String()
}

func fixed(v model.Value, prec int) string {
	if !v.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(v.Float, 'f', prec, 64)
}

func number(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
