// Package analysis joins the loaded tables and computes the report statistics.
package analysis

import (
	"math"
	"sort"

	"github.com/Veraticus/popflow/internal/model"
	"gonum.org/v1/gonum/stat"
)

// PopulationStats summarizes population over an inclusive year window.
type PopulationStats struct {
	Mean     model.Value
	StdDev   model.Value
	FromYear int
	ToYear   int
	// Count is the number of non-missing population values in the window.
	Count int
}

// SeriesExtremes holds the best and worst year of one series, where a year's
// score is the sum of its non-missing values over every period.
type SeriesExtremes struct {
	SeriesID   string
	BestYear   int
	BestValue  float64
	WorstYear  int
	WorstValue float64
	Years      int
}

// JoinedStats summarizes the joined table.
type JoinedStats struct {
	MeanValue   model.Value
	MaxValue    model.Value
	MinValue    model.Value
	Correlation model.Value
	Rows        int
	// ValueCount is the number of rows with a non-missing value.
	ValueCount int
	MaxYear    int
	MinYear    int
	// Pairs is the number of rows where both value and population are present.
	Pairs int
}

// Options configures Analyze.
type Options struct {
	Filter         model.JoinFilter
	PopulationFrom int
	PopulationTo   int
}

// Result is everything the reporter renders.
type Result struct {
	Filter      model.JoinFilter
	BestYears   []SeriesExtremes
	Joined      []model.JoinedRecord
	Population  PopulationStats
	JoinedStats JoinedStats
}

// Analyze runs every aggregation over the loaded tables.
func Analyze(obs []model.Observation, pop []model.PopulationRecord, opts Options) *Result {
	joined := Join(obs, pop, opts.Filter)
	return &Result{
		Filter:      opts.Filter,
		Population:  PopulationSummary(pop, opts.PopulationFrom, opts.PopulationTo),
		BestYears:   BestYears(obs),
		Joined:      joined,
		JoinedStats: Summarize(joined),
	}
}

// PopulationSummary computes the mean and sample standard deviation of
// population for fromYear..toYear inclusive. Missing values are excluded.
// StdDev needs at least two values.
func PopulationSummary(pop []model.PopulationRecord, fromYear, toYear int) PopulationStats {
	summary := PopulationStats{FromYear: fromYear, ToYear: toYear}

	values := make([]float64, 0, len(pop))
	for _, rec := range pop {
		if rec.Year < fromYear || rec.Year > toYear || !rec.Population.Valid {
			continue
		}
		values = append(values, rec.Population.Float)
	}

	summary.Count = len(values)
	if len(values) > 0 {
		summary.Mean = model.Some(stat.Mean(values, nil))
	}
	if len(values) > 1 {
		summary.StdDev = finite(stat.StdDev(values, nil))
	}
	return summary
}

// BestYears sums each series' values per year and picks the years with the
// largest and smallest sums. Ties go to the earliest year. Years whose values
// are all missing are ignored, and a series with no values at all is omitted.
// The result is sorted by series id.
func BestYears(obs []model.Observation) []SeriesExtremes {
	type yearKey struct {
		series string
		year   int
	}
	sums := make(map[yearKey]float64)
	for _, o := range obs {
		if !o.Value.Valid {
			continue
		}
		sums[yearKey{o.SeriesID, o.Year}] += o.Value.Float
	}

	keys := make([]yearKey, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].series != keys[j].series {
			return keys[i].series < keys[j].series
		}
		return keys[i].year < keys[j].year
	})

	var out []SeriesExtremes
	for _, k := range keys {
		sum := sums[k]
		if n := len(out); n == 0 || out[n-1].SeriesID != k.series {
			out = append(out, SeriesExtremes{
				SeriesID:   k.series,
				BestYear:   k.year,
				BestValue:  sum,
				WorstYear:  k.year,
				WorstValue: sum,
				Years:      1,
			})
			continue
		}

		cur := &out[len(out)-1]
		cur.Years++
		// Years arrive in ascending order, so strict comparison keeps the earliest on ties.
		if sum > cur.BestValue {
			cur.BestYear, cur.BestValue = k.year, sum
		}
		if sum < cur.WorstValue {
			cur.WorstYear, cur.WorstValue = k.year, sum
		}
	}
	return out
}

// Join inner-joins the observations selected by filter with population on
// year. Observations whose year has no population record are dropped, as are
// population years with no matching observation. Rows are ordered by year,
// then series id, then period.
func Join(obs []model.Observation, pop []model.PopulationRecord, filter model.JoinFilter) []model.JoinedRecord {
	byYear := make(map[int]model.PopulationRecord, len(pop))
	for _, rec := range pop {
		byYear[rec.Year] = rec
	}

	joined := make([]model.JoinedRecord, 0)
	for _, o := range obs {
		if !filter.Matches(o) {
			continue
		}
		rec, ok := byYear[o.Year]
		if !ok {
			continue
		}
		joined = append(joined, model.JoinedRecord{
			SeriesID:   o.SeriesID,
			Year:       o.Year,
			Period:     o.Period,
			Value:      o.Value,
			Population: rec.Population,
		})
	}

	sort.SliceStable(joined, func(i, j int) bool {
		a, b := joined[i], joined[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.SeriesID != b.SeriesID {
			return a.SeriesID < b.SeriesID
		}
		return a.Period < b.Period
	})
	return joined
}

// Summarize computes the joined-table statistics. Missing values are left out
// of each statistic rather than counted as zero. The correlation is the
// Pearson coefficient between value and population over rows where both are
// present; it is missing for fewer than two pairs or zero variance.
func Summarize(joined []model.JoinedRecord) JoinedStats {
	summary := JoinedStats{Rows: len(joined)}

	values := make([]float64, 0, len(joined))
	var xs, ys []float64
	for _, row := range joined {
		if !row.Value.Valid {
			continue
		}
		v := row.Value.Float
		values = append(values, v)

		if !summary.MaxValue.Valid || v > summary.MaxValue.Float {
			summary.MaxValue, summary.MaxYear = model.Some(v), row.Year
		}
		if !summary.MinValue.Valid || v < summary.MinValue.Float {
			summary.MinValue, summary.MinYear = model.Some(v), row.Year
		}

		if row.Population.Valid {
			xs = append(xs, v)
			ys = append(ys, row.Population.Float)
		}
	}

	summary.ValueCount = len(values)
	if len(values) > 0 {
		summary.MeanValue = model.Some(stat.Mean(values, nil))
	}

	summary.Pairs = len(xs)
	if len(xs) > 1 {
		summary.Correlation = finite(stat.Correlation(xs, ys, nil))
	}
	return summary
}

func finite(f float64) model.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return model.Missing()
	}
	return model.Some(f)
}
