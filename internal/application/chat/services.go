package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/datalyst/internal/application"
	appanalysis "github.com/bryanwahyu/datalyst/internal/application/analysis"
	"github.com/bryanwahyu/datalyst/internal/application/insights"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/chat"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
	"github.com/bryanwahyu/datalyst/internal/domain/session"
	"github.com/bryanwahyu/datalyst/internal/infra/ai/prompt"
)

// Deps groups the collaborators of the chat service. Completer is only used
// for question enhancement and may be nil.
type Deps struct {
	Store        session.Store
	Cleanser     dataset.Cleanser
	Dictionaries dictionary.Generator
	Analyst      *appanalysis.Service
	Insights     *insights.Service
	Completer    analysis.Completer
	Clock        application.Clock
	Logger       *zap.Logger
}

type Service struct {
	store     session.Store
	cleanser  dataset.Cleanser
	dicts     dictionary.Generator
	analyst   *appanalysis.Service
	insights  *insights.Service
	completer analysis.Completer
	clock     application.Clock
	log       *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = application.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		store:     d.Store,
		cleanser:  d.Cleanser,
		dicts:     d.Dictionaries,
		analyst:   d.Analyst,
		insights:  d.Insights,
		completer: d.Completer,
		clock:     d.Clock,
		log:       d.Logger,
	}
}

// RegisterResult reports what an upload changed.
type RegisterResult struct {
	Registered []string          `json:"registered"`
	Failures   []dataset.Failure `json:"failures,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

func (s *Service) CreateSession(ctx context.Context) (string, error) {
	st, err := s.store.Create(ctx)
	if err != nil {
		return "", err
	}
	return st.ID, nil
}

// RegisterDatasets cleanses the datasets, generates their dictionaries and
// stores all three under each dataset's name, replacing earlier uploads.
func (s *Service) RegisterDatasets(ctx context.Context, sessionID string, datasets []*dataset.Dataset) (*RegisterResult, error) {
	if len(datasets) == 0 {
		return nil, analysis.Invalid("datasets", "at least one dataset is required")
	}
	seen := map[string]bool{}
	for _, d := range datasets {
		if seen[d.Name()] {
			return nil, analysis.Invalid("datasets", "duplicate dataset name "+d.Name())
		}
		seen[d.Name()] = true
	}

	rctx, lease, err := s.store.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.store.End(lease)

	batch, err := s.cleanser.Cleanse(rctx, datasets)
	if err != nil {
		return nil, err
	}
	cleaned := make([]*dataset.Dataset, len(batch.Cleansed))
	for i, c := range batch.Cleansed {
		cleaned[i] = c.Dataset
	}
	dicts, warnings, err := s.dicts.GenerateDictionaries(rctx, lease.SessionID, lease.RequestID, cleaned)
	if err != nil {
		return nil, err
	}

	failed := map[string]bool{}
	for _, f := range batch.Failures {
		failed[f.Dataset] = true
	}
	res := &RegisterResult{Failures: batch.Failures, Warnings: warnings}
	err = s.store.Commit(rctx, lease, func(st *session.State) error {
		for _, d := range datasets {
			if failed[d.Name()] {
				continue
			}
			st.PutDataset(d)
			res.Registered = append(res.Registered, d.Name())
		}
		for _, c := range batch.Cleansed {
			st.PutCleansed(c)
		}
		for _, d := range dicts {
			st.PutDictionary(d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("datasets registered",
		zap.String("session_id", sessionID),
		zap.Strings("registered", res.Registered),
		zap.Int("failures", len(res.Failures)),
	)
	return res, nil
}

// UpdateDictionary replaces a dictionary with a user-edited table, which
// must describe every column of the cleansed dataset exactly once.
func (s *Service) UpdateDictionary(ctx context.Context, sessionID, name string, rows []dictionary.TableRow) (*dictionary.DataDictionary, error) {
	dict, err := dictionary.FromTable(name, rows)
	if err != nil {
		return nil, analysis.Invalid("dictionary", err.Error())
	}
	rctx, lease, err := s.store.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.store.End(lease)

	err = s.store.Commit(rctx, lease, func(st *session.State) error {
		var ds *dataset.Dataset
		for _, d := range st.AnalysisDatasets() {
			if d.Name() == name {
				ds = d
				break
			}
		}
		if ds == nil {
			return analysis.Invalid("dictionary", "no dataset named "+name)
		}
		if missing, unknown := dict.Mismatch(ds); len(missing)+len(unknown) > 0 {
			verr := &analysis.ValidationError{Field: "dictionary"}
			if len(missing) > 0 {
				verr.Problems = append(verr.Problems, "missing columns: "+strings.Join(missing, ", "))
			}
			if len(unknown) > 0 {
				verr.Problems = append(verr.Problems, "unknown columns: "+strings.Join(unknown, ", "))
			}
			return verr
		}
		st.PutDictionary(dict)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dict, nil
}

// Ask runs one chat turn and returns the appended assistant message, whose ID
// is the request id of the turn. Result
// failures are reported inside the message; only malformed input, a busy or
// missing session, and cancellation are returned as errors. A turn cancelled
// by Reset leaves no trace in the history.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (*chat.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, analysis.Invalid("message", "question cannot be empty")
	}

	rctx, lease, err := s.store.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.store.End(lease)

	st, err := s.store.View(rctx, sessionID)
	if err != nil {
		return nil, err
	}
	datasets := st.AnalysisDatasets()
	if len(datasets) == 0 {
		return nil, analysis.Invalid("datasets", "upload at least one dataset before asking a question")
	}
	tr := analysis.Trace{SessionID: sessionID, RequestID: lease.RequestID}
	log := s.log.With(zap.String("session_id", sessionID), zap.String("request_id", lease.RequestID))

	user := chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Content: question, CreatedAt: s.clock.Now()}

	var components []chat.Component
	enhanced := s.enhance(rctx, chat.Transport(st.Messages), question, datasets, log)
	if enhanced != question {
		components = append(components, chat.EnhancedQuestionComponent(enhanced))
	}

	res, err := s.analyst.RunAnalysis(rctx, analysis.AnalysisRequest{
		Kind:         analysis.KindAnalysis,
		Datasets:     datasets,
		Dictionaries: st.Dictionaries,
		Question:     enhanced,
	}, tr)
	if err != nil {
		return nil, err
	}
	components = append(components, chat.AnalysisComponent(res))

	var (
		charts  *analysis.ChartResult
		insight *analysis.BusinessInsightResult
	)
	if res.Status() == analysis.StatusSuccess {
		charts, insight, err = s.followUps(rctx, res.Dataset, enhanced, tr)
		if err != nil {
			return nil, err
		}
		if charts != nil {
			components = append(components, chat.ChartsComponent(charts))
		}
		if insight != nil {
			components = append(components, chat.InsightComponent(insight))
		}
	}

	// the reply id doubles as the request id, keying the attempt audit log
	reply := chat.Message{
		ID:         lease.RequestID,
		Role:       chat.RoleAssistant,
		Content:    summarize(res, insight),
		Components: components,
		CreatedAt:  s.clock.Now(),
	}
	err = s.store.Commit(rctx, lease, func(st *session.State) error {
		st.AppendMessage(user)
		st.AppendMessage(reply)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("chat turn finished",
		zap.String("status", string(res.Status())),
		zap.Int("attempts", res.Metadata.Attempts),
		zap.Int("components", len(components)),
	)
	return &reply, nil
}

// followUps runs charts and insights concurrently over the analysis result.
func (s *Service) followUps(ctx context.Context, result *dataset.Dataset, question string, tr analysis.Trace) (*analysis.ChartResult, *analysis.BusinessInsightResult, error) {
	var (
		mu      sync.Mutex
		charts  *analysis.ChartResult
		insight *analysis.BusinessInsightResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.analyst.RunCharts(gctx, analysis.ChartRequest{Dataset: result, Question: question}, tr)
		if err != nil {
			return err
		}
		mu.Lock()
		charts = r
		mu.Unlock()
		return nil
	})
	if s.insights != nil {
		g.Go(func() error {
			r, err := s.insights.Run(gctx, analysis.BusinessInsightRequest{Dataset: result, Question: question}, tr)
			if err != nil {
				return err
			}
			mu.Lock()
			insight = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return charts, insight, nil
}

// enhance rewrites the question with the conversation context. Any failure
// falls back to the raw question.
func (s *Service) enhance(ctx context.Context, history []chat.TransportMessage, question string, datasets []*dataset.Dataset, log *zap.Logger) string {
	if s.completer == nil || len(history) == 0 {
		return question
	}
	text, err := s.completer.Complete(ctx, prompt.Enhance(history, question, datasets))
	if err != nil {
		log.Warn("question enhancement failed", zap.Error(err))
		return question
	}
	var out chat.EnhancedQuestion
	if err := prompt.Decode(text, &out); err != nil || strings.TrimSpace(out.EnhancedUserMessage) == "" {
		log.Warn("question enhancement returned no question", zap.Error(err))
		return question
	}
	return strings.TrimSpace(out.EnhancedUserMessage)
}

func summarize(res *analysis.AnalysisResult, insight *analysis.BusinessInsightResult) string {
	if res.Status() == analysis.StatusError {
		msg := "unknown error"
		if last := res.Metadata.Exception.Latest(); last != nil {
			msg = last.ExceptionMessage
		}
		return fmt.Sprintf("I could not complete the analysis after %d attempt(s). Last error: %s", res.Metadata.Attempts, msg)
	}
	if insight != nil && insight.Status() == analysis.StatusSuccess {
		return insight.BottomLine
	}
	if res.Description != "" {
		return res.Description
	}
	return fmt.Sprintf("Analysis finished with %d row(s).", res.Dataset.Len())
}

func (s *Service) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	st, err := s.store.View(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

// Transport returns the history in the role+content shape sent to the LLM.
func (s *Service) Transport(ctx context.Context, sessionID string) ([]chat.TransportMessage, error) {
	msgs, err := s.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return chat.Transport(msgs), nil
}

func (s *Service) Datasets(ctx context.Context, sessionID string) ([]*dataset.CleansedDataset, []*dataset.Dataset, error) {
	st, err := s.store.View(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return st.Cleansed, st.Datasets, nil
}

func (s *Service) Dictionaries(ctx context.Context, sessionID string) ([]*dictionary.DataDictionary, error) {
	st, err := s.store.View(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.Dictionaries, nil
}

// Reset clears the session and abandons any in-flight turn.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := s.store.Reset(ctx, sessionID); err != nil {
		return err
	}
	s.log.Info("session reset", zap.String("session_id", sessionID))
	return nil
}

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	var ve *analysis.ValidationError
	return errors.As(err, &ve)
}
