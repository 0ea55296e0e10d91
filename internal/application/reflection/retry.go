package reflection

import (
	"context"

	"go.uber.org/zap"

	"github.com/bryanwahyu/datalyst/internal/application"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
)

// Step is one attempt of a task that needs no sandbox, such as a validated
// JSON completion. A non-nil error is a retryable failure.
type Step func(ctx context.Context, last *analysis.CodeExecutionError) error

// Retry runs step under the engine's attempt bound, audit log and observer.
// Only task.Kind, task.SessionID and task.RequestID are used.
func (e *Engine) Retry(ctx context.Context, task Task, step Step) (Outcome, error) {
	start := e.clock.Now()
	var history []*analysis.CodeExecutionError

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		attemptStart := e.clock.Now()
		var last *analysis.CodeExecutionError
		if len(history) > 0 {
			last = history[len(history)-1]
		}
		err := step(ctx, last)
		if err == nil {
			e.finishAttempt(ctx, task, attempt, attemptStart, nil)
			return Outcome{Attempts: attempt, Duration: application.Since(e.clock, start)}, nil
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		snap := analysis.Snapshot("", err)
		history = append(history, &snap)
		e.finishAttempt(ctx, task, attempt, attemptStart, &snap)
		e.log.Warn("attempt failed",
			zap.String("kind", task.Kind),
			zap.Int("attempt", attempt),
			zap.String("error", snap.ExceptionMessage),
		)
	}

	if e.observer != nil {
		e.observer.Exhausted(task.Kind)
	}
	return Outcome{
		Attempts:  e.maxAttempts,
		Duration:  application.Since(e.clock, start),
		Exhausted: analysis.NewReflectionExhaustedError(history),
	}, nil
}
