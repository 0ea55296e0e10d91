package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bryanwahyu/datalyst/internal/application/reflection"
	domain "github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/infra/ai/prompt"
)

// ResultDatasetName names the dataset returned by a successful analysis.
const ResultDatasetName = "analysis_result"

type Service struct {
	engine    *reflection.Engine
	artifacts domain.ArtifactStore
	log       *zap.Logger
}

// NewService wires the use cases. artifacts may be nil.
func NewService(engine *reflection.Engine, artifacts domain.ArtifactStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{engine: engine, artifacts: artifacts, log: log}
}

// RunAnalysis returns a ValidationError for a malformed request and the
// context error on cancellation. Every other failure is carried inside the
// returned result.
func (s *Service) RunAnalysis(ctx context.Context, req domain.AnalysisRequest, tr domain.Trace) (*domain.AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind := domain.KindAnalysis
	if req.Kind == domain.KindDatabaseAnalysis {
		kind = domain.KindDatabaseAnalysis
	}

	out, err := s.engine.Run(ctx, reflection.Task{
		Kind:       string(kind),
		SessionID:  tr.SessionID,
		RequestID:  tr.RequestID,
		Entrypoint: domain.AnalyzeEntrypoint,
		Datasets:   req.Datasets,
		Prompt: func(last *domain.CodeExecutionError) domain.Prompt {
			return prompt.Analysis(req, last)
		},
		Check: func(o domain.Output) error {
			if o.Dataset == nil {
				return fmt.Errorf("analyze_data must return a pandas DataFrame")
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	meta := domain.Metadata{Attempts: out.Attempts, Question: req.Question}
	meta.SetDuration(out.Duration)
	meta.DatasetsAnalyzed, meta.RowsAnalyzed, meta.ColumnsAnalyzed = req.Shape()

	if !out.Succeeded() {
		return domain.AnalysisFailed(meta, out.Exhausted), nil
	}
	result := out.Output.Dataset.Renamed(ResultDatasetName)
	meta.ArtifactURL = s.publish(ctx, tr, "analysis", result)
	return domain.AnalysisSucceeded(result, out.Generation.Code, out.Generation.Description, meta), nil
}

// RunCharts asks for two figures over one dataset, usually an analysis result.
func (s *Service) RunCharts(ctx context.Context, req domain.ChartRequest, tr domain.Trace) (*domain.ChartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out, err := s.engine.Run(ctx, reflection.Task{
		Kind:       string(domain.KindCharts),
		SessionID:  tr.SessionID,
		RequestID:  tr.RequestID,
		Entrypoint: domain.ChartsEntrypoint,
		Datasets:   []*dataset.Dataset{req.Dataset},
		Prompt: func(last *domain.CodeExecutionError) domain.Prompt {
			return prompt.Charts(req, last)
		},
		Check: func(o domain.Output) error {
			if len(o.Figures) != 2 || strings.TrimSpace(o.Figures[0]) == "" || strings.TrimSpace(o.Figures[1]) == "" {
				return fmt.Errorf("create_charts must return two plotly figures, got %d", len(o.Figures))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	meta := domain.Metadata{
		Attempts:         out.Attempts,
		Question:         req.Question,
		DatasetsAnalyzed: 1,
		RowsAnalyzed:     req.Dataset.Len(),
		ColumnsAnalyzed:  len(req.Dataset.Columns()),
	}
	meta.SetDuration(out.Duration)
	if !out.Succeeded() {
		return domain.ChartFailed(meta, out.Exhausted), nil
	}
	figs := out.Output.Figures
	meta.ArtifactURL = s.publish(ctx, tr, "charts", map[string]string{"fig1_json": figs[0], "fig2_json": figs[1]})
	return domain.ChartSucceeded(figs[0], figs[1], out.Generation.Code, meta), nil
}

func (s *Service) publish(ctx context.Context, tr domain.Trace, kind string, v any) string {
	if s.artifacts == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%s/%s.json", tr.SessionID, tr.RequestID, kind)
	url, err := s.artifacts.PutJSON(ctx, key, v)
	if err != nil {
		s.log.Warn("artifact upload failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}
