package dataset

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// DefaultName is used when a dataset is built without a name.
const DefaultName = "analyst_dataset"

// Record is one row of a dataset keyed by column name.
type Record map[string]any

// SchemaError reports records that cannot be reconciled into a rectangular table.
type SchemaError struct {
	Dataset string
	Row     int
	Column  string
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("dataset %q: row %d column %q: %s", e.Dataset, e.Row, e.Column, e.Reason)
	}
	return fmt.Sprintf("dataset %q: %s", e.Dataset, e.Reason)
}

// Dataset is an immutable in-memory table. Every row carries every column;
// columns absent from a source record are stored as nil.
type Dataset struct {
	name    string
	columns []string
	rows    []Record
}

// New builds a dataset with an explicit column order.
func New(name string, columns []string, rows []Record) (*Dataset, error) {
	if name == "" {
		name = DefaultName
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return nil, &SchemaError{Dataset: name, Reason: "empty column name"}
		}
		if seen[c] {
			return nil, &SchemaError{Dataset: name, Reason: fmt.Sprintf("duplicate column %q", c)}
		}
		seen[c] = true
	}

	out := make([]Record, len(rows))
	for i, r := range rows {
		row := make(Record, len(columns))
		for k, v := range r {
			if !seen[k] {
				return nil, &SchemaError{Dataset: name, Row: i, Column: k, Reason: "column not declared"}
			}
			if !isScalar(v) {
				return nil, &SchemaError{Dataset: name, Row: i, Column: k, Reason: fmt.Sprintf("non-scalar value of type %T", v)}
			}
			row[k] = v
		}
		for _, c := range columns {
			if _, ok := row[c]; !ok {
				row[c] = nil
			}
		}
		out[i] = row
	}

	return &Dataset{
		name:    name,
		columns: append([]string(nil), columns...),
		rows:    out,
	}, nil
}

// FromRecords builds a dataset from a sequence of mappings. Column order comes
// from the first record (sorted, since Go maps are unordered); keys that only
// appear in later records are appended in first-seen order.
func FromRecords(name string, records []Record) (*Dataset, error) {
	if name == "" {
		name = DefaultName
	}
	var columns []string
	seen := map[string]bool{}
	for i, r := range records {
		if r == nil {
			return nil, &SchemaError{Dataset: name, Row: i, Reason: "nil record"}
		}
		keys := make([]string, 0, len(r))
		for k := range r {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			columns = append(columns, k)
		}
	}
	return New(name, columns, records)
}

// Name returns the dataset identifier.
func (d *Dataset) Name() string { return d.name }

// Columns returns the ordered column names.
func (d *Dataset) Columns() []string { return append([]string(nil), d.columns...) }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// HasColumn reports whether the column exists.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the values of one column in row order.
func (d *Dataset) Column(name string) []any {
	if !d.HasColumn(name) {
		return nil
	}
	out := make([]any, len(d.rows))
	for i, r := range d.rows {
		out[i] = r[name]
	}
	return out
}

// ToRecords returns a copy of the rows.
func (d *Dataset) ToRecords() []Record {
	out := make([]Record, len(d.rows))
	for i, r := range d.rows {
		cp := make(Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// Renamed returns a copy of the dataset under a new name.
func (d *Dataset) Renamed(name string) *Dataset {
	nd, _ := New(name, d.columns, d.rows)
	return nd
}

// Head returns a dataset holding at most n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 || n >= len(d.rows) {
		n = len(d.rows)
	}
	nd, _ := New(d.name, d.columns, d.rows[:n])
	return nd
}

// Equal compares name, column set and row values. Column order is ignored.
func (d *Dataset) Equal(o *Dataset) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.name != o.name || len(d.columns) != len(o.columns) || len(d.rows) != len(o.rows) {
		return false
	}
	for _, c := range d.columns {
		if !o.HasColumn(c) {
			return false
		}
	}
	for i := range d.rows {
		if !reflect.DeepEqual(d.rows[i], o.rows[i]) {
			return false
		}
	}
	return true
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time:
		return true
	}
	// json.Number and other named scalar kinds
	switch reflect.TypeOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
