package analysis

import (
	"strings"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

// Kind tags the request family.
type Kind string

const (
	KindAnalysis         Kind = "analysis"
	KindDatabaseAnalysis Kind = "database"
	KindCharts           Kind = "charts"
	KindBusinessInsight  Kind = "business_insight"
)

// AnalysisRequest asks for a tabular answer over one or more datasets.
type AnalysisRequest struct {
	Kind         Kind                         `json:"kind"`
	Datasets     []*dataset.Dataset           `json:"datasets"`
	Dictionaries []*dictionary.DataDictionary `json:"data_dictionaries"`
	Question     string                       `json:"question"`
}

// Validate rejects an empty question, no datasets, or a dictionary that does
// not belong to any dataset.
func (r AnalysisRequest) Validate() error {
	v := &ValidationError{Field: "analysis_request"}
	if strings.TrimSpace(r.Question) == "" {
		v.Problems = append(v.Problems, "question cannot be empty")
	}
	if len(r.Datasets) == 0 {
		v.Problems = append(v.Problems, "at least one dataset is required")
	}
	names := map[string]bool{}
	for _, d := range r.Datasets {
		if d == nil {
			v.Problems = append(v.Problems, "nil dataset")
			continue
		}
		if names[d.Name()] {
			v.Problems = append(v.Problems, "duplicate dataset name "+d.Name())
		}
		names[d.Name()] = true
	}
	for _, dd := range r.Dictionaries {
		if dd != nil && !names[dd.Name] {
			v.Problems = append(v.Problems, "dictionary "+dd.Name+" has no matching dataset")
		}
	}
	if r.Kind != "" && r.Kind != KindAnalysis && r.Kind != KindDatabaseAnalysis {
		v.Problems = append(v.Problems, "unsupported kind "+string(r.Kind))
	}
	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

// Shape returns dataset/row/column totals for metadata.
func (r AnalysisRequest) Shape() (datasets, rows, columns int) {
	return shape(r.Datasets)
}

// ChartRequest asks for two figures built from a single dataset.
type ChartRequest struct {
	Dataset  *dataset.Dataset `json:"dataset"`
	Question string           `json:"question"`
}

func (r ChartRequest) Validate() error {
	v := &ValidationError{Field: "chart_request"}
	if strings.TrimSpace(r.Question) == "" {
		v.Problems = append(v.Problems, "question cannot be empty")
	}
	if r.Dataset == nil {
		v.Problems = append(v.Problems, "dataset is required")
	}
	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

// BusinessInsightRequest asks for a narrative over an analysis result.
type BusinessInsightRequest struct {
	Dataset    *dataset.Dataset           `json:"dataset"`
	Dictionary *dictionary.DataDictionary `json:"data_dictionary,omitempty"`
	Question   string                     `json:"question"`
}

func (r BusinessInsightRequest) Validate() error {
	v := &ValidationError{Field: "business_insight_request"}
	if strings.TrimSpace(r.Question) == "" {
		v.Problems = append(v.Problems, "question cannot be empty")
	}
	if r.Dataset == nil {
		v.Problems = append(v.Problems, "dataset is required")
	}
	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

func shape(ds []*dataset.Dataset) (datasets, rows, columns int) {
	for _, d := range ds {
		if d == nil {
			continue
		}
		datasets++
		rows += d.Len()
		columns += len(d.Columns())
	}
	return
}
