package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/popflow/internal/analysis"
	"github.com/Veraticus/popflow/internal/model"
)

// Workbook sheet names.
const (
	SheetPopulation = "Population"
	SheetBestYears  = "BestYears"
	SheetJoined     = "Joined"
)

// Workbook builds an xlsx workbook with one sheet per report section.
func Workbook(result *analysis.Result) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetPopulation); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetBestYears, SheetJoined} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	pop := result.Population
	rows := map[string][][]any{
		SheetPopulation: {
			{"From year", "To year", "Years with data", "Mean", "Standard deviation"},
			{pop.FromYear, pop.ToYear, pop.Count, cell(pop.Mean), cell(pop.StdDev)},
		},
		SheetBestYears: {
			{"Series", "Best year", "Best total", "Worst year", "Worst total", "Years"},
		},
		SheetJoined: {
			{"Year", "Series", "Period", "Value", "Population"},
		},
	}
	for _, s := range result.BestYears {
		rows[SheetBestYears] = append(rows[SheetBestYears],
			[]any{s.SeriesID, s.BestYear, s.BestValue, s.WorstYear, s.WorstValue, s.Years})
	}
	for _, r := range result.Joined {
		rows[SheetJoined] = append(rows[SheetJoined],
			[]any{r.Year, r.SeriesID, r.Period, cell(r.Value), cell(r.Population)})
	}

	for _, sheet := range []string{SheetPopulation, SheetBestYears, SheetJoined} {
		for i, row := range rows[sheet] {
			addr, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sheet, addr, &row); err != nil {
				return nil, fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cell leaves missing values as empty cells.
func cell(v model.Value) any {
	if !v.Valid {
		return nil
	}
	return v.Float
}
