package model

import "strconv"

// Value is a numeric cell that may be missing in the source data.
type Value struct {
	Float float64
	Valid bool
}

// Some returns a present value.
func Some(f float64) Value {
	return Value{Float: f, Valid: true}
}

// Missing returns an absent value.
func Missing() Value {
	return Value{}
}

// String renders the value the way the report shows it; missing values render empty.
func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

// Observation is one row of a BLS time-series data file.
type Observation struct {
	SeriesID      string
	Period        string
	FootnoteCodes string
	Value         Value
	Year          int
}

// Key identifies an observation; it is unique within one data file.
func (o Observation) Key() string {
	return o.SeriesID + "|" + strconv.Itoa(o.Year) + "|" + o.Period
}
