package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/datalyst/internal/application"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

// DefaultMaxAttempts is used when the configured bound is not positive.
const DefaultMaxAttempts = 3

// State of one reflective request.
type State string

const (
	StateGenerating State = "generating"
	StateExecuting  State = "executing"
	StateReflecting State = "reflecting"
	StateSuccess    State = "success"
	StateExhausted  State = "exhausted"
)

// Task describes one reflective request. Prompt receives the most recent
// failure (nil on the first attempt). Check, when set, rejects outputs of the
// wrong shape; a rejection is retried like any execution failure.
type Task struct {
	Kind       string
	SessionID  string
	RequestID  string
	Entrypoint analysis.Entrypoint
	Datasets   []*dataset.Dataset
	Prompt     func(last *analysis.CodeExecutionError) analysis.Prompt
	Check      func(analysis.Output) error
}

// Outcome is the terminal value of Run. Exhausted is nil on success.
type Outcome struct {
	Output     analysis.Output
	Generation analysis.Generation
	Attempts   int
	Duration   time.Duration
	Exhausted  *analysis.ReflectionExhaustedError
}

func (o Outcome) Succeeded() bool { return o.Exhausted == nil }

// Observer receives per-attempt notifications, e.g. for metrics.
type Observer interface {
	AttemptFinished(kind string, ok bool)
	Exhausted(kind string)
}

type Engine struct {
	gen            analysis.Generator
	sandbox        analysis.Sandbox
	maxAttempts    int
	attemptTimeout time.Duration
	clock          application.Clock
	log            *zap.Logger
	recorder       attempts.Repository
	observer       Observer
}

type Option func(*Engine)

func WithClock(c application.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder writes every attempt to the audit log. Save errors are logged only.
func WithRecorder(r attempts.Repository) Option { return func(e *Engine) { e.recorder = r } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithAttemptTimeout bounds each sandbox execution. A timed out execution is
// a retryable failure.
func WithAttemptTimeout(d time.Duration) Option { return func(e *Engine) { e.attemptTimeout = d } }

func New(gen analysis.Generator, sandbox analysis.Sandbox, maxAttempts int, opts ...Option) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	e := &Engine{
		gen:         gen,
		sandbox:     sandbox,
		maxAttempts: maxAttempts,
		clock:       application.SystemClock{},
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// Run drives the generate/execute/reflect loop until success or until the
// attempt bound is reached. The only error returned is the context's: a
// cancelled run yields no outcome and its partial history is discarded.
func (e *Engine) Run(ctx context.Context, task Task) (Outcome, error) {
	start := e.clock.Now()
	log := e.log.With(zap.String("kind", task.Kind), zap.String("request_id", task.RequestID))

	var (
		history      []*analysis.CodeExecutionError
		failure      analysis.CodeExecutionError
		gen          analysis.Generation
		out          analysis.Output
		attempt      = 1
		attemptStart = start
		state        = StateGenerating
	)

	for {
		if err := ctx.Err(); err != nil {
			log.Info("reflection cancelled", zap.Int("attempt", attempt), zap.String("state", string(state)))
			return Outcome{}, err
		}

		switch state {
		case StateGenerating:
			attemptStart = e.clock.Now()
			var last *analysis.CodeExecutionError
			if len(history) > 0 {
				last = history[len(history)-1]
			}
			g, err := e.gen.Generate(ctx, task.Prompt(last))
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				var ge *analysis.GenerationError
				if !errors.As(err, &ge) {
					err = &analysis.GenerationError{Err: err}
				}
				failure = analysis.Snapshot("", err)
				state = StateReflecting
				continue
			}
			if strings.TrimSpace(g.Code) == "" {
				failure = analysis.CodeExecutionError{ExceptionMessage: "generated code is empty"}
				state = StateReflecting
				continue
			}
			gen = g
			state = StateExecuting

		case StateExecuting:
			o, err := e.execute(ctx, task, gen.Code)
			if err == nil && task.Check != nil {
				err = task.Check(o)
			}
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				failure = analysis.Snapshot(gen.Code, err)
				if failure.Stdout == "" {
					failure.Stdout = o.Stdout
				}
				if failure.Stderr == "" {
					failure.Stderr = o.Stderr
				}
				state = StateReflecting
				continue
			}
			out = o
			e.finishAttempt(ctx, task, attempt, attemptStart, nil)
			state = StateSuccess

		case StateReflecting:
			snap := failure
			history = append(history, &snap)
			e.finishAttempt(ctx, task, attempt, attemptStart, &snap)
			log.Warn("attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.maxAttempts),
				zap.String("error", snap.ExceptionMessage),
			)
			if attempt >= e.maxAttempts {
				state = StateExhausted
				continue
			}
			attempt++
			state = StateGenerating

		case StateSuccess:
			d := application.Since(e.clock, start)
			log.Info("reflection succeeded", zap.Int("attempts", attempt), zap.Duration("duration", d))
			return Outcome{Output: out, Generation: gen, Attempts: attempt, Duration: d}, nil

		case StateExhausted:
			d := application.Since(e.clock, start)
			log.Warn("reflection exhausted", zap.Int("attempts", attempt), zap.Duration("duration", d))
			if e.observer != nil {
				e.observer.Exhausted(task.Kind)
			}
			return Outcome{
				Attempts:  attempt,
				Duration:  d,
				Exhausted: analysis.NewReflectionExhaustedError(history),
			}, nil
		}
	}
}

func (e *Engine) execute(ctx context.Context, task Task, code string) (analysis.Output, error) {
	actx := ctx
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}
	out, err := e.sandbox.Execute(actx, analysis.Execution{
		Code:       code,
		Entrypoint: task.Entrypoint,
		Datasets:   task.Datasets,
	})
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return out, &analysis.ExecutionError{
			Message: fmt.Sprintf("execution timed out after %s", e.attemptTimeout),
			Stdout:  out.Stdout,
			Stderr:  out.Stderr,
		}
	}
	return out, err
}

func (e *Engine) finishAttempt(ctx context.Context, task Task, attempt int, started time.Time, failure *analysis.CodeExecutionError) {
	if e.observer != nil {
		e.observer.AttemptFinished(task.Kind, failure == nil)
	}
	if e.recorder == nil {
		return
	}
	rec := &attempts.Record{
		SessionID:  task.SessionID,
		RequestID:  task.RequestID,
		Kind:       task.Kind,
		Attempt:    attempt,
		Outcome:    attempts.OutcomeSuccess,
		DurationMS: application.Since(e.clock, started).Milliseconds(),
		CreatedAt:  e.clock.Now(),
	}
	if failure != nil {
		rec.Outcome = attempts.OutcomeFailure
		rec.Message = failure.ExceptionMessage
		details, _ := json.Marshal(map[string]any{
			"code_bytes":    len(failure.Code),
			"has_traceback": failure.Traceback != "",
		})
		rec.DetailsJSON = string(details)
	}
	if err := e.recorder.Save(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Warn("failed to record attempt", zap.Error(err), zap.Int("attempt", attempt))
	}
}
