package dictionary

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/datalyst/internal/application/reflection"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	domain "github.com/bryanwahyu/datalyst/internal/domain/dictionary"
	"github.com/bryanwahyu/datalyst/internal/infra/ai/prompt"
)

const (
	defaultBatchSize   = 10
	defaultConcurrency = 4
)

// Service generates dictionaries with the LLM. Each batch of columns is
// validated and retried within the engine's bound; a batch that exhausts
// falls back to inferred defaults and yields a warning.
type Service struct {
	completer   analysis.Completer
	engine      *reflection.Engine
	batchSize   int
	concurrency int
	log         *zap.Logger
}

func NewService(c analysis.Completer, engine *reflection.Engine, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		completer:   c,
		engine:      engine,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		log:         log,
	}
}

// GenerateDictionaries returns one dictionary per dataset in input order.
func (s *Service) GenerateDictionaries(ctx context.Context, sessionID, requestID string, datasets []*dataset.Dataset) ([]*domain.DataDictionary, []string, error) {
	tr := analysis.Trace{SessionID: sessionID, RequestID: requestID}
	out := make([]*domain.DataDictionary, len(datasets))
	var (
		mu       sync.Mutex
		warnings []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, d := range datasets {
		i, d := i, d
		g.Go(func() error {
			dict, warns, err := s.generate(gctx, tr, d)
			if err != nil {
				return err
			}
			out[i] = dict
			if len(warns) > 0 {
				mu.Lock()
				warnings = append(warnings, warns...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}

func (s *Service) generate(ctx context.Context, tr analysis.Trace, d *dataset.Dataset) (*domain.DataDictionary, []string, error) {
	inferred := domain.FromDataset(d, "")
	descriptions := map[string]string{}
	var warnings []string

	cols := d.Columns()
	for start := 0; start < len(cols); start += s.batchSize {
		batch := cols[start:min(start+s.batchSize, len(cols))]
		var gen domain.Generation
		out, err := s.engine.Retry(ctx, reflection.Task{Kind: "dictionary", SessionID: tr.SessionID, RequestID: tr.RequestID}, func(ctx context.Context, last *analysis.CodeExecutionError) error {
			var prev domain.Violations
			if last != nil {
				prev = domain.Violations{last.ExceptionMessage}
			}
			text, err := s.completer.Complete(ctx, prompt.Dictionary(d, batch, prev))
			if err != nil {
				return &analysis.GenerationError{Err: err}
			}
			var g domain.Generation
			if err := prompt.Decode(text, &g); err != nil {
				return err
			}
			if v := validateBatch(g, batch); !v.OK() {
				return v
			}
			gen = g
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		if !out.Succeeded() {
			warnings = append(warnings, fmt.Sprintf("dictionary %s: using default descriptions for %s: %s",
				d.Name(), strings.Join(batch, ", "), out.Exhausted.Latest().ExceptionMessage))
			s.log.Warn("dictionary batch exhausted", zap.String("dataset", d.Name()), zap.Strings("columns", batch))
			continue
		}
		for k, v := range gen.Map() {
			descriptions[k] = strings.TrimSpace(v)
		}
	}

	for i := range inferred.Columns {
		if desc, ok := descriptions[inferred.Columns[i].Column]; ok {
			inferred.Columns[i].Description = desc
		}
	}
	return inferred, warnings, nil
}

// validateBatch also requires the answer to describe exactly the batch.
func validateBatch(g domain.Generation, batch []string) domain.Violations {
	v := domain.ValidateGeneration(g)
	want := make(map[string]bool, len(batch))
	for _, c := range batch {
		want[c] = true
	}
	for _, c := range g.Columns {
		if !want[c] {
			v = append(v, fmt.Sprintf("unknown column %q", c))
		}
		delete(want, c)
	}
	for c := range want {
		v = append(v, fmt.Sprintf("missing column %q", c))
	}
	return v
}
