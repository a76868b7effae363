// Package table provides the in-memory tabular data model used by Speed.
// A Table is an ordered set of named columns with rows kept in insertion
// order. Cells are dynamically typed: int64, float64, bool, string or nil.
package table

import (
	"fmt"

	"github.com/speedframe/speed/pkg/errors"
)

// Row is a single record, one cell per column.
type Row []interface{}

// Table is a materialized tabular relation.
type Table struct {
	Columns []string
	Rows    []Row
}

// New creates an empty table with the given column names.
func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	return len(t.Columns)
}

// ColumnIndex returns the position of the named column, or an error if the
// column does not exist.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, errors.New(errors.ErrorTypeData, "unknown column").WithDetail("column", name)
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row Row) error {
	if len(row) != len(t.Columns) {
		return errors.New(errors.ErrorTypeData,
			fmt.Sprintf("row has %d cells, table has %d columns", len(row), len(t.Columns)))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Slice returns a shallow copy of the contiguous row range [start, end).
// The returned table shares cell values with the original but owns its own
// row slice, so appending to either side is safe.
func (t *Table) Slice(start, end int) *Table {
	if start < 0 {
		start = 0
	}
	if end > len(t.Rows) {
		end = len(t.Rows)
	}
	if start > end {
		start = end
	}
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	out.Rows = append(out.Rows, t.Rows[start:end]...)
	return out
}

// Concat appends the rows of each part, in order, to a new table with this
// table's schema. Parts must share the schema; the column check is by count
// only, since chunk results always come from the same pipeline.
func Concat(parts ...*Table) (*Table, error) {
	if len(parts) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "nothing to concatenate")
	}
	out := &Table{Columns: append([]string(nil), parts[0].Columns...)}
	for i, p := range parts {
		if p.NumColumns() != out.NumColumns() {
			return nil, errors.New(errors.ErrorTypeData, "chunk result schema mismatch").
				WithDetail("chunk", i)
		}
		out.Rows = append(out.Rows, p.Rows...)
	}
	return out, nil
}

// EstimatedBytes returns an approximate in-memory footprint of the table.
// The figure feeds routing decisions only and is never required to be exact.
func (t *Table) EstimatedBytes() int64 {
	const cellOverhead = 16 // interface header
	var total int64
	for _, c := range t.Columns {
		total += int64(len(c))
	}
	for _, row := range t.Rows {
		for _, cell := range row {
			total += cellOverhead
			switch v := cell.(type) {
			case string:
				total += int64(len(v))
			case int64, float64:
				total += 8
			case bool:
				total++
			}
		}
	}
	return total
}

// Equal reports whether two tables have identical schema and cell values,
// comparing cells with fmt-style rendering to absorb engine type coercion
// (int64 vs float64 for whole numbers, []byte vs string).
func Equal(a, b *Table) bool {
	if a.NumColumns() != b.NumColumns() || a.NumRows() != b.NumRows() {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	for i := range a.Rows {
		for j := range a.Rows[i] {
			if renderCell(a.Rows[i][j]) != renderCell(b.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func renderCell(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(c)
	case float64:
		if c == float64(int64(c)) {
			return fmt.Sprintf("%d", int64(c))
		}
		return fmt.Sprintf("%v", c)
	default:
		return fmt.Sprintf("%v", c)
	}
}
