package dataset

import "context"

// ColumnReport describes what cleansing did to one column.
// A report without ConversionKind means the column passed through unchanged.
type ColumnReport struct {
	NewName        string   `json:"new_name"`
	OriginalName   string   `json:"original_name,omitempty"`
	OriginalType   string   `json:"original_type,omitempty"`
	NewType        string   `json:"new_type,omitempty"`
	Warnings       []string `json:"warnings"`
	Errors         []string `json:"errors"`
	ConversionKind string   `json:"conversion_kind,omitempty"`
}

// Changed reports whether cleansing touched the column.
func (r ColumnReport) Changed() bool { return r.ConversionKind != "" }

// CleansedDataset pairs a cleansed dataset with its per-column reports.
type CleansedDataset struct {
	Dataset *Dataset       `json:"dataset"`
	Report  []ColumnReport `json:"cleaning_report"`
}

// Name returns the name of the underlying dataset.
func (c *CleansedDataset) Name() string { return c.Dataset.Name() }

// ChangedColumns groups changed column reports by conversion kind.
func (c *CleansedDataset) ChangedColumns() map[string][]ColumnReport {
	out := map[string][]ColumnReport{}
	for _, r := range c.Report {
		if r.Changed() {
			out[r.ConversionKind] = append(out[r.ConversionKind], r)
		}
	}
	return out
}

// UnchangedColumns lists the columns that passed through untouched.
func (c *CleansedDataset) UnchangedColumns() []string {
	var out []string
	for _, r := range c.Report {
		if !r.Changed() {
			out = append(out, r.NewName)
		}
	}
	return out
}

// Failure is a dataset the cleansing stage could not process.
type Failure struct {
	Dataset string `json:"dataset"`
	Error   string `json:"error"`
}

// CleanseBatch is the outcome of cleansing several datasets. A failing
// dataset is omitted from Cleansed and listed in Failures.
type CleanseBatch struct {
	Cleansed []*CleansedDataset `json:"cleansed"`
	Failures []Failure          `json:"failures,omitempty"`
}

// Cleanser port (cleansing collaborator)
type Cleanser interface {
	Cleanse(ctx context.Context, datasets []*Dataset) (CleanseBatch, error)
}
