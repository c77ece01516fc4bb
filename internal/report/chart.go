package report

import (
	"bytes"
	"fmt"
	"html/template"
	"image/color"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/Veraticus/popflow/internal/model"
)

const (
	chartWidth    = 8 * vg.Inch
	chartHeight   = 4 * vg.Inch
	maxYearTicks  = 12
	chartLineRGBA = 0xFF6B6BFF
)

// Chart draws the non-missing joined values by year as an SVG fragment ready
// to be inlined in HTML. It returns "" when there is nothing to draw.
func Chart(joined []model.JoinedRecord, filter model.JoinFilter) (template.HTML, error) {
	points := make(plotter.XYs, 0, len(joined))
	for _, rec := range joined {
		if !rec.Value.Valid {
			continue
		}
		points = append(points, plotter.XY{X: float64(rec.Year), Y: rec.Value.Float})
	}
	if len(points) == 0 {
		return "", nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s by year", filter.SeriesID, filter.Period)
	p.X.Label.Text = "Year"
	p.Y.Label.Text = "Value"
	p.X.Tick.Marker = plot.TickerFunc(yearTicks)
	p.Add(plotter.NewGrid())

	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return "", fmt.Errorf("build chart series: %w", err)
	}
	line.Color = rgba(chartLineRGBA)
	line.Width = vg.Points(1.5)
	scatter.Color = rgba(chartLineRGBA)
	p.Add(line, scatter)

	canvas := vgsvg.New(chartWidth, chartHeight)
	p.Draw(draw.New(canvas))

	var buf bytes.Buffer
	if _, err := canvas.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}

	// Drop the XML prolog so the SVG can sit inside an HTML document.
	svg := buf.String()
	if i := strings.Index(svg, "<svg"); i > 0 {
		svg = svg[i:]
	}
	return template.HTML(svg), nil //nolint:gosec // generated by gonum/plot, not user input
}

// yearTicks labels whole years only, thinning the labels for long ranges.
func yearTicks(low, high float64) []plot.Tick {
	first := int(math.Ceil(low))
	last := int(math.Floor(high))
	if last < first {
		return nil
	}

	step := 1
	for (last-first)/step+1 > maxYearTicks {
		step++
	}

	ticks := make([]plot.Tick, 0, (last-first)/step+1)
	for year := first; year <= last; year++ {
		label := ""
		if (year-first)%step == 0 {
			label = strconv.Itoa(year)
		}
		ticks = append(ticks, plot.Tick{Value: float64(year), Label: label})
	}
	return ticks
}

func rgba(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
