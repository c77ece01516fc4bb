package model

// PopulationRecord is the total population of a nation for one year.
type PopulationRecord struct {
	Nation     string
	NationID   string
	Population Value
	Year       int
}

// JoinedRecord is an observation aligned with the population of its year.
type JoinedRecord struct {
	SeriesID   string
	Period     string
	Value      Value
	Population Value
	Year       int
}

// JoinFilter selects the observations that take part in a join.
type JoinFilter struct {
	SeriesID string
	Period   string
	// Year restricts the join to one year; zero keeps every year.
	Year int
}

// Matches reports whether o passes the filter.
func (f JoinFilter) Matches(o Observation) bool {
	if f.SeriesID != "" && o.SeriesID != f.SeriesID {
		return false
	}
	if f.Period != "" && o.Period != f.Period {
		return false
	}
	if f.Year != 0 && o.Year != f.Year {
		return false
	}
	return true
}
