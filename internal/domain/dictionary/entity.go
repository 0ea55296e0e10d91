package dictionary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

// DefaultDescription is used when a dictionary is inferred from column types.
const DefaultDescription = "Analysis result column"

// MinDescriptionLength is the minimum trimmed length, in characters, of a
// generated description.
const MinDescriptionLength = 10

// Column describes one dataset column.
type Column struct {
	Column      string `json:"column"`
	DataType    string `json:"data_type"`
	Description string `json:"description"`
}

// DataDictionary holds one entry per column of the associated dataset.
type DataDictionary struct {
	Name    string   `json:"name"`
	Columns []Column `json:"column_descriptions"`
}

// New validates that every column appears exactly once.
func New(name string, columns []Column) (*DataDictionary, error) {
	if name == "" {
		return nil, fmt.Errorf("dictionary name is required")
	}
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c.Column) == "" {
			return nil, fmt.Errorf("dictionary %q: row %d has an empty column name", name, i)
		}
		if seen[c.Column] {
			return nil, fmt.Errorf("dictionary %q: duplicate column %q", name, c.Column)
		}
		seen[c.Column] = true
	}
	return &DataDictionary{Name: name, Columns: append([]Column(nil), columns...)}, nil
}

// FromDataset infers a dictionary from the dataset's value types. Every
// description is set to description, or DefaultDescription when empty.
func FromDataset(d *dataset.Dataset, description string) *DataDictionary {
	if description == "" {
		description = DefaultDescription
	}
	cols := d.Columns()
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{Column: c, DataType: InferType(d.Column(c)), Description: description}
	}
	return &DataDictionary{Name: d.Name(), Columns: out}
}

// TableRow is one row of a user-edited dictionary table.
type TableRow struct {
	Column      string `json:"column"`
	Description string `json:"description"`
	DataType    string `json:"data_type"`
}

// FromTable parses a user-edited table. Descriptions are required.
func FromTable(name string, rows []TableRow) (*DataDictionary, error) {
	cols := make([]Column, len(rows))
	for i, r := range rows {
		if strings.TrimSpace(r.Description) == "" {
			return nil, fmt.Errorf("dictionary %q: column %q has an empty description", name, r.Column)
		}
		cols[i] = Column{Column: r.Column, DataType: r.DataType, Description: r.Description}
	}
	return New(name, cols)
}

// ToTable projects the dictionary into editable rows.
func (d *DataDictionary) ToTable() []TableRow {
	out := make([]TableRow, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = TableRow{Column: c.Column, Description: c.Description, DataType: c.DataType}
	}
	return out
}

// ColumnNames returns the described columns in order.
func (d *DataDictionary) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Column
	}
	return out
}

// Mismatch lists dataset columns the dictionary leaves out and described
// columns the dataset does not have, both in their source order.
func (d *DataDictionary) Mismatch(ds *dataset.Dataset) (missing, unknown []string) {
	described := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		described[c.Column] = true
		if !ds.HasColumn(c.Column) {
			unknown = append(unknown, c.Column)
		}
	}
	for _, c := range ds.Columns() {
		if !described[c] {
			missing = append(missing, c)
		}
	}
	return missing, unknown
}

// Covers reports whether the dictionary describes exactly the dataset's columns.
func (d *DataDictionary) Covers(ds *dataset.Dataset) bool {
	if len(d.Columns) != len(ds.Columns()) {
		return false
	}
	for _, c := range d.Columns {
		if !ds.HasColumn(c.Column) {
			return false
		}
	}
	return true
}

// InferType maps column values to a pandas-style dtype name.
func InferType(values []any) string {
	kind := ""
	merge := func(k string) {
		switch {
		case kind == "":
			kind = k
		case kind == k:
		case (kind == "int64" && k == "float64") || (kind == "float64" && k == "int64"):
			kind = "float64"
		default:
			kind = "object"
		}
	}
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case bool:
			merge("bool")
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			merge("int64")
		case float32:
			merge("float64")
		case float64:
			f := v.(float64)
			if f == float64(int64(f)) && kind != "float64" {
				merge("int64")
			} else {
				merge("float64")
			}
		case time.Time:
			merge("datetime64[ns]")
		default:
			merge("object")
		}
	}
	if kind == "" {
		return "object"
	}
	return kind
}

// Generator port (dictionary collaborator). The ids tie its LLM attempts to
// the registering request in the audit log.
type Generator interface {
	GenerateDictionaries(ctx context.Context, sessionID, requestID string, datasets []*dataset.Dataset) ([]*DataDictionary, []string, error)
}
