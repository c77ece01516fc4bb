// Package load parses downloaded source files into typed in-memory tables.
package load

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

// ColumnKind is the type a column's cells must parse as.
type ColumnKind int

const (
	// KindString accepts any cell.
	KindString ColumnKind = iota
	// KindInt requires a base-10 integer.
	KindInt
	// KindFloat requires a number; an empty cell is a missing value.
	KindFloat
)

func (k ColumnKind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	default:
		return "string"
	}
}

// Column is one expected column of a delimited file.
type Column struct {
	Name string
	Kind ColumnKind
	// Required columns reject empty cells.
	Required bool
}

// Schema describes the layout of a delimited text file.
type Schema struct {
	Name      string
	Columns   []Column
	Delimiter rune
}

// TimeSeriesSchema is the layout of BLS time.series data files.
var TimeSeriesSchema = Schema{
	Name:      "time series",
	Delimiter: '\t',
	Columns: []Column{
		{Name: "series_id", Kind: KindString, Required: true},
		{Name: "year", Kind: KindInt, Required: true},
		{Name: "period", Kind: KindString, Required: true},
		{Name: "value", Kind: KindFloat},
		{Name: "footnote_codes", Kind: KindString},
	},
}

// Table is a validated delimited file. Every cell of a schema column has
// already been checked against its kind, so the typed accessors cannot fail.
type Table struct {
	index  map[string]int
	schema Schema
	rows   [][]string
	lines  []int
}

// ReadTable reads r as a delimited file with a header row. Header names and
// cells are whitespace-trimmed. Every schema column must be present in the
// header; extra columns are kept but not validated. A row whose field count
// differs from the header, or a cell that does not parse as its column kind,
// fails with a *common.ParseError.
func ReadTable(r io.Reader, schema Schema) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = schema.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &common.ParseError{Source: schema.Name, Line: 1, Err: errors.New("empty file: missing header row")}
	}
	if err != nil {
		return nil, csvParseError(schema.Name, err)
	}

	t := &Table{
		schema: schema,
		index:  make(map[string]int, len(header)),
	}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := t.index[name]; dup {
			return nil, &common.ParseError{Source: schema.Name, Line: 1, Column: name, Err: errors.New("duplicate header column")}
		}
		t.index[name] = i
	}
	for _, col := range schema.Columns {
		if _, ok := t.index[col.Name]; !ok {
			return nil, &common.ParseError{Source: schema.Name, Line: 1, Column: col.Name, Err: errors.New("missing header column")}
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvParseError(schema.Name, err)
		}
		line, _ := reader.FieldPos(0)

		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != len(header) {
			return nil, &common.ParseError{
				Source: schema.Name,
				Line:   line,
				Err:    fmt.Errorf("wrong number of fields: got %d, want %d", len(record), len(header)),
			}
		}

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if err := t.validateRow(record, line); err != nil {
			return nil, err
		}

		t.rows = append(t.rows, record)
		t.lines = append(t.lines, line)
	}

	return t, nil
}

func (t *Table) validateRow(record []string, line int) error {
	for _, col := range t.schema.Columns {
		cell := record[t.index[col.Name]]
		if cell == "" {
			if col.Required {
				return &common.ParseError{Source: t.schema.Name, Line: line, Column: col.Name, Err: errors.New("value is required")}
			}
			continue
		}

		var err error
		switch col.Kind {
		case KindInt:
			_, err = strconv.Atoi(cell)
		case KindFloat:
			var f float64
			f, err = strconv.ParseFloat(cell, 64)
			if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
				err = errors.New("not finite")
			}
		}
		if err != nil {
			return &common.ParseError{
				Source: t.schema.Name,
				Line:   line,
				Column: col.Name,
				Err:    fmt.Errorf("%q is not a valid %s", cell, col.Kind),
			}
		}
	}
	return nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Line returns the 1-based source line of row i.
func (t *Table) Line(i int) int {
	return t.lines[i]
}

// String returns the trimmed cell of row i in column col.
func (t *Table) String(i int, col string) string {
	idx, ok := t.index[col]
	if !ok {
		return ""
	}
	return t.rows[i][idx]
}

// Int returns an integer cell; empty cells read as zero.
func (t *Table) Int(i int, col string) int {
	n, _ := strconv.Atoi(t.String(i, col))
	return n
}

// Float returns a numeric cell; empty cells are missing.
func (t *Table) Float(i int, col string) model.Value {
	s := t.String(i, col)
	if s == "" {
		return model.Missing()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return model.Missing()
	}
	return model.Some(f)
}

func csvParseError(source string, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &common.ParseError{Source: source, Line: perr.Line, Err: perr.Err}
	}
	return &common.ParseError{Source: source, Err: err}
}
