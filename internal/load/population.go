package load

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

const populationSource = "population"

// populationPayload mirrors the DataUSA jsonrecords envelope.
type populationPayload struct {
	Data *[]populationRow `json:"data"`
}

type populationRow struct {
	Year       jsonNumber `json:"Year"`
	Population jsonNumber `json:"Population"`
	Nation     string     `json:"Nation"`
	NationID   string     `json:"Nation ID"`
}

// jsonNumber accepts a JSON number, a numeric string or null.
type jsonNumber struct {
	raw   string
	value float64
	set   bool
}

func (n *jsonNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = jsonNumber{}
		return nil
	}

	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = jsonNumber{}
			return nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%s is not a number", string(b))
	}
	*n = jsonNumber{raw: s, value: f, set: true}
	return nil
}

// ParsePopulation reads the DataUSA population dataset. Records are returned
// sorted by year. A missing or non-integral year, a non-numeric population,
// or a year that appears twice is a *common.ParseError. A null population is
// kept as a missing value.
func ParsePopulation(r io.Reader) ([]model.PopulationRecord, error) {
	var payload populationPayload
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, &common.ParseError{Source: populationSource, Err: describeJSONError(err)}
	}
	if payload.Data == nil {
		return nil, &common.ParseError{Source: populationSource, Column: "data", Err: errors.New("missing data array")}
	}

	rows := *payload.Data
	records := make([]model.PopulationRecord, 0, len(rows))
	seen := make(map[int]int, len(rows))

	for i, row := range rows {
		if !row.Year.set {
			return nil, &common.ParseError{Source: populationSource, Column: "Year", Err: fmt.Errorf("record %d: year is required", i)}
		}
		year := int(row.Year.value)
		if float64(year) != row.Year.value {
			return nil, &common.ParseError{Source: populationSource, Column: "Year", Err: fmt.Errorf("record %d: %s is not a whole year", i, row.Year.raw)}
		}
		if first, dup := seen[year]; dup {
			return nil, &common.ParseError{
				Source: populationSource,
				Column: "Year",
				Err:    fmt.Errorf("record %d: duplicate year %d (first seen in record %d)", i, year, first),
			}
		}
		seen[year] = i

		pop := model.Missing()
		if row.Population.set {
			pop = model.Some(row.Population.value)
		}

		records = append(records, model.PopulationRecord{
			Year:       year,
			Nation:     row.Nation,
			NationID:   row.NationID,
			Population: pop,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Year < records[j].Year })

	slog.Debug("Parsed population dataset", "records", len(records))
	return records, nil
}

// describeJSONError turns decoder errors into messages that name the offending field.
func describeJSONError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("field %q: cannot use %s as %s", typeErr.Field, typeErr.Value, typeErr.Type)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("invalid JSON at offset %d: %w", syntaxErr.Offset, err)
	}
	return err
}
