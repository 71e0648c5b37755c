// Package schema merges export page files whose headers differ into one
// table with a unified column layout, and classifies the unified columns.
package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrRaggedRow indicates a data row with more cells than its header.
var ErrRaggedRow = errors.New("row has more cells than the header")

// Cell is one nullable table value. The zero Cell is null.
type Cell struct {
	Value string
	Valid bool
}

// Str returns a non-null cell holding s.
func Str(s string) Cell {
	return Cell{Value: s, Valid: true}
}

// Null is the null cell.
var Null = Cell{}

// Table is a header plus rows of nullable cells, all as wide as the header.
// Column names may repeat.
type Table struct {
	Header []string
	Rows   [][]Cell
}

// ReadCSV parses a CSV document whose first record is the header.
// Rows shorter than the header are padded with nulls.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	// Jira prefixes its exports with a byte order mark
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}

	t := &Table{Header: header}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("row %d: %w (%d > %d)", line, ErrRaggedRow, len(record), len(header))
		}
		row := make([]Cell, len(header))
		for i, v := range record {
			row[i] = Str(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteCSV writes the header and rows. Null cells are written as empty fields.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = row[i].Value
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Select returns a table holding only the given columns, in the given order.
func (t *Table) Select(indexes []int) *Table {
	out := &Table{Header: make([]string, len(indexes)), Rows: make([][]Cell, len(t.Rows))}
	for i, idx := range indexes {
		out.Header[i] = t.Header[idx]
	}
	for r, row := range t.Rows {
		cells := make([]Cell, len(indexes))
		for i, idx := range indexes {
			cells[i] = row[idx]
		}
		out.Rows[r] = cells
	}
	return out
}

func trimBOM(s string) string {
	const bom = "\ufeff"
	if len(s) >= len(bom) && s[:len(bom)] == bom {
		return s[len(bom):]
	}
	return s
}
