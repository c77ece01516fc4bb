package load

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

// ParseObservations reads a BLS time-series data file. Observations are
// returned in file order. A repeated (series_id, year, period) key is a
// *common.ParseError because later steps rely on it being unique.
func ParseObservations(r io.Reader) ([]model.Observation, error) {
	table, err := ReadTable(r, TimeSeriesSchema)
	if err != nil {
		return nil, err
	}

	observations := make([]model.Observation, 0, table.Len())
	seen := make(map[string]int, table.Len())
	missing := 0

	for i := 0; i < table.Len(); i++ {
		obs := model.Observation{
			SeriesID:      table.String(i, "series_id"),
			Year:          table.Int(i, "year"),
			Period:        table.String(i, "period"),
			Value:         table.Float(i, "value"),
			FootnoteCodes: table.String(i, "footnote_codes"),
		}

		key := obs.Key()
		if first, dup := seen[key]; dup {
			return nil, &common.ParseError{
				Source: TimeSeriesSchema.Name,
				Line:   table.Line(i),
				Err: fmt.Errorf("duplicate observation %s %d %s (first seen on line %d)",
					obs.SeriesID, obs.Year, obs.Period, first),
			}
		}
		seen[key] = table.Line(i)

		if !obs.Value.Valid {
			missing++
		}
		observations = append(observations, obs)
	}

	if len(observations) == 0 {
		return nil, &common.ParseError{Source: TimeSeriesSchema.Name, Err: errors.New("no observations")}
	}

	slog.Debug("Parsed time series",
		"observations", len(observations),
		"missing_values", missing)

	return observations, nil
}
