package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/speedframe/speed/pkg/errors"
)

// inferSampleRows bounds how many rows drive column type inference when
// reading CSV data. Inference is advisory: a later value that fails to parse
// as the inferred type falls back to string for that cell.
const inferSampleRows = 128

// ReadCSVFile reads a whole CSV file into a table. The first record is the
// header. Cell types are inferred per column from a leading sample.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller-controlled data file
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open CSV file")
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads CSV data from r into a table.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV header")
	}

	t := New(header...)
	raw := make([][]string, 0, inferSampleRows)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV record")
		}
		raw = append(raw, rec)
	}

	kinds := inferColumnKinds(header, raw)
	for _, rec := range raw {
		row := make(Row, len(header))
		for i := range header {
			row[i] = parseCell(rec[i], kinds[i])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSVFile writes the table to path as CSV with a header record.
func (t *Table) WriteCSVFile(path string) error {
	f, err := os.Create(path) //nolint:gosec // G304: caller-controlled output file
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create CSV file")
	}
	defer f.Close()
	return t.WriteCSV(f)
}

// WriteCSV writes the table to w as CSV with a header record.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV header")
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, cell := range row {
			rec[i] = formatCell(cell)
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV record")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush CSV")
	}
	return nil
}

// columnKind is the inferred logical type of a CSV column.
type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
	kindBool
)

// inferColumnKinds samples leading records and picks the narrowest type that
// fits every sampled value. Empty cells are ignored by inference.
func inferColumnKinds(header []string, raw [][]string) []columnKind {
	kinds := make([]columnKind, len(header))
	sample := raw
	if len(sample) > inferSampleRows {
		sample = sample[:inferSampleRows]
	}
	for col := range header {
		kind := kindInt
		seen := false
		for _, rec := range sample {
			v := rec[col]
			if v == "" {
				continue
			}
			seen = true
			switch kind {
			case kindInt:
				if _, err := strconv.ParseInt(v, 10, 64); err == nil {
					continue
				}
				kind = kindFloat
				fallthrough
			case kindFloat:
				if _, err := strconv.ParseFloat(v, 64); err == nil {
					continue
				}
				kind = kindBool
				fallthrough
			case kindBool:
				if _, err := strconv.ParseBool(v); err == nil {
					continue
				}
				kind = kindString
			}
			if kind == kindString {
				break
			}
		}
		if !seen {
			kind = kindString
		}
		kinds[col] = kind
	}
	return kinds
}

// ParseValue parses a raw CSV value into the narrowest type that fits:
// int64, float64, bool, then string. Empty values become nil.
func ParseValue(v string) interface{} {
	if v == "" {
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func parseCell(v string, kind columnKind) interface{} {
	if v == "" {
		return nil
	}
	switch kind {
	case kindInt:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case kindFloat:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case kindBool:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return v
}

func formatCell(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprintf("%v", c)
	}
}
