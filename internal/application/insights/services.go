package insights

import (
	"context"
	"errors"
	"strings"

	"github.com/bryanwahyu/datalyst/internal/application/reflection"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/infra/ai/prompt"
)

const maxFollowUps = 3

// answer is the JSON shape requested from the model.
type answer struct {
	BottomLine         string   `json:"bottom_line"`
	AdditionalInsights string   `json:"additional_insights"`
	FollowUpQuestions  []string `json:"follow_up_questions"`
}

func (a answer) validate() error {
	if strings.TrimSpace(a.BottomLine) == "" {
		return errors.New("bottom_line cannot be empty")
	}
	return nil
}

type Service struct {
	completer analysis.Completer
	engine    *reflection.Engine
}

func NewService(c analysis.Completer, engine *reflection.Engine) *Service {
	return &Service{completer: c, engine: engine}
}

// Run produces the narrative for an analysis result. Like the code paths,
// failures are retried within the engine's bound and returned as data.
func (s *Service) Run(ctx context.Context, req analysis.BusinessInsightRequest, tr analysis.Trace) (*analysis.BusinessInsightResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var got answer
	out, err := s.engine.Retry(ctx, reflection.Task{
		Kind:      string(analysis.KindBusinessInsight),
		SessionID: tr.SessionID,
		RequestID: tr.RequestID,
	}, func(ctx context.Context, last *analysis.CodeExecutionError) error {
		text, err := s.completer.Complete(ctx, prompt.Insight(req, last))
		if err != nil {
			return &analysis.GenerationError{Err: err}
		}
		var a answer
		if err := prompt.Decode(text, &a); err != nil {
			return err
		}
		if err := a.validate(); err != nil {
			return err
		}
		got = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta := analysis.Metadata{
		Attempts:         out.Attempts,
		Question:         req.Question,
		DatasetsAnalyzed: 1,
		RowsAnalyzed:     req.Dataset.Len(),
		ColumnsAnalyzed:  len(req.Dataset.Columns()),
	}
	meta.SetDuration(out.Duration)
	if !out.Succeeded() {
		return analysis.InsightFailed(meta, out.Exhausted), nil
	}
	followUps := got.FollowUpQuestions
	if len(followUps) > maxFollowUps {
		followUps = followUps[:maxFollowUps]
	}
	return analysis.InsightSucceeded(got.BottomLine, got.AdditionalInsights, followUps, meta), nil
}
