package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

// Status is derived from whether Metadata.Exception is set. It cannot be
// assigned on its own.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Metadata is populated on every result regardless of outcome.
type Metadata struct {
	Duration         float64                   `json:"duration"`
	Attempts         int                       `json:"attempts"`
	DatasetsAnalyzed int                       `json:"datasets_analyzed"`
	RowsAnalyzed     int                       `json:"rows_analyzed"`
	ColumnsAnalyzed  int                       `json:"columns_analyzed"`
	Question         string                    `json:"question,omitempty"`
	ArtifactURL      string                    `json:"artifact_url,omitempty"`
	Exception        *ReflectionExhaustedError `json:"exception,omitempty"`
}

// SetDuration stores d in seconds.
func (m *Metadata) SetDuration(d time.Duration) { m.Duration = d.Seconds() }

func (m Metadata) status() Status {
	if m.Exception != nil {
		return StatusError
	}
	return StatusSuccess
}

func checkStatus(claimed Status, m Metadata) error {
	if claimed != "" && claimed != m.status() {
		return fmt.Errorf("status %q contradicts metadata (exception present: %t)", claimed, m.Exception != nil)
	}
	return nil
}

// AnalysisResult answers an AnalysisRequest.
type AnalysisResult struct {
	Dataset     *dataset.Dataset `json:"dataset,omitempty"`
	Code        string           `json:"code,omitempty"`
	Description string           `json:"description,omitempty"`
	Metadata    Metadata         `json:"metadata"`
}

// AnalysisSucceeded builds a success result; any exception in meta is dropped.
func AnalysisSucceeded(ds *dataset.Dataset, code, description string, meta Metadata) *AnalysisResult {
	meta.Exception = nil
	return &AnalysisResult{Dataset: ds, Code: code, Description: description, Metadata: meta}
}

// AnalysisFailed builds an error result carrying the exhausted history.
func AnalysisFailed(meta Metadata, exhausted *ReflectionExhaustedError) *AnalysisResult {
	if exhausted == nil {
		exhausted = &ReflectionExhaustedError{}
	}
	meta.Exception = exhausted
	return &AnalysisResult{Metadata: meta}
}

func (r *AnalysisResult) Status() Status { return r.Metadata.status() }

type analysisResultAlias AnalysisResult

func (r *AnalysisResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status Status `json:"status"`
		*analysisResultAlias
	}{r.Status(), (*analysisResultAlias)(r)})
}

func (r *AnalysisResult) UnmarshalJSON(b []byte) error {
	aux := struct {
		Status Status `json:"status"`
		*analysisResultAlias
	}{analysisResultAlias: (*analysisResultAlias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return checkStatus(aux.Status, r.Metadata)
}

// ChartResult answers a ChartRequest with two serialized figures.
type ChartResult struct {
	Fig1JSON string   `json:"fig1_json,omitempty"`
	Fig2JSON string   `json:"fig2_json,omitempty"`
	Code     string   `json:"code,omitempty"`
	Metadata Metadata `json:"metadata"`
}

func ChartSucceeded(fig1, fig2, code string, meta Metadata) *ChartResult {
	meta.Exception = nil
	return &ChartResult{Fig1JSON: fig1, Fig2JSON: fig2, Code: code, Metadata: meta}
}

func ChartFailed(meta Metadata, exhausted *ReflectionExhaustedError) *ChartResult {
	if exhausted == nil {
		exhausted = &ReflectionExhaustedError{}
	}
	meta.Exception = exhausted
	return &ChartResult{Metadata: meta}
}

func (r *ChartResult) Status() Status { return r.Metadata.status() }

type chartResultAlias ChartResult

func (r *ChartResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status Status `json:"status"`
		*chartResultAlias
	}{r.Status(), (*chartResultAlias)(r)})
}

func (r *ChartResult) UnmarshalJSON(b []byte) error {
	aux := struct {
		Status Status `json:"status"`
		*chartResultAlias
	}{chartResultAlias: (*chartResultAlias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return checkStatus(aux.Status, r.Metadata)
}

// BusinessInsightResult is the narrative answer to a BusinessInsightRequest.
type BusinessInsightResult struct {
	BottomLine         string   `json:"bottom_line,omitempty"`
	AdditionalInsights string   `json:"additional_insights,omitempty"`
	FollowUpQuestions  []string `json:"follow_up_questions,omitempty"`
	Metadata           Metadata `json:"metadata"`
}

func InsightSucceeded(bottomLine, additional string, followUps []string, meta Metadata) *BusinessInsightResult {
	meta.Exception = nil
	return &BusinessInsightResult{
		BottomLine:         bottomLine,
		AdditionalInsights: additional,
		FollowUpQuestions:  append([]string(nil), followUps...),
		Metadata:           meta,
	}
}

func InsightFailed(meta Metadata, exhausted *ReflectionExhaustedError) *BusinessInsightResult {
	if exhausted == nil {
		exhausted = &ReflectionExhaustedError{}
	}
	meta.Exception = exhausted
	return &BusinessInsightResult{Metadata: meta}
}

func (r *BusinessInsightResult) Status() Status { return r.Metadata.status() }

type insightResultAlias BusinessInsightResult

func (r *BusinessInsightResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status Status `json:"status"`
		*insightResultAlias
	}{r.Status(), (*insightResultAlias)(r)})
}

func (r *BusinessInsightResult) UnmarshalJSON(b []byte) error {
	aux := struct {
		Status Status `json:"status"`
		*insightResultAlias
	}{insightResultAlias: (*insightResultAlias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return checkStatus(aux.Status, r.Metadata)
}
