package reflection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type scriptedGenerator struct {
	calls   int
	prompts []analysis.Prompt
	fail    func(call int) error
}

func (g *scriptedGenerator) Generate(_ context.Context, p analysis.Prompt) (analysis.Generation, error) {
	g.calls++
	g.prompts = append(g.prompts, p)
	if g.fail != nil {
		if err := g.fail(g.calls); err != nil {
			return analysis.Generation{}, err
		}
	}
	return analysis.Generation{Code: fmt.Sprintf("def analyze_data(dfs): return attempt_%d", g.calls), Description: "d"}, nil
}

type countingSandbox struct {
	calls     int
	succeedAt int // 0 means never
}

func (s *countingSandbox) Execute(_ context.Context, ex analysis.Execution) (analysis.Output, error) {
	s.calls++
	if s.succeedAt > 0 && s.calls >= s.succeedAt {
		ds, _ := dataset.FromRecords("result", []dataset.Record{{"ok": true}})
		return analysis.Output{Dataset: ds}, nil
	}
	return analysis.Output{Stdout: "partial"}, &analysis.ExecutionError{
		Message:   fmt.Sprintf("ValueError: attempt %d", s.calls),
		Traceback: "Traceback (most recent call last): ...",
	}
}

type memRecorder struct {
	mu   sync.Mutex
	recs []*attempts.Record
}

func (m *memRecorder) Save(_ context.Context, r *attempts.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memRecorder) ListByRequest(context.Context, string, string, int) ([]*attempts.Record, error) {
	return m.recs, nil
}

func promptWith(last *analysis.CodeExecutionError) analysis.Prompt {
	p := analysis.Prompt{System: "sys", User: "question"}
	if last != nil {
		p.User += "\nprevious error: " + last.ExceptionMessage
	}
	return p
}

func TestAlwaysFailingSandboxExhaustsBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "max_attempts")
		gen := &scriptedGenerator{}
		sb := &countingSandbox{}
		rec := &memRecorder{}
		e := New(gen, sb, n, WithClock(&stepClock{}), WithRecorder(rec))

		out, err := e.Run(context.Background(), Task{Kind: "analysis", Prompt: promptWith})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if out.Succeeded() {
			t.Fatal("expected exhaustion")
		}
		if sb.calls != n || gen.calls != n {
			t.Fatalf("sandbox calls = %d, generator calls = %d, want %d", sb.calls, gen.calls, n)
		}
		if len(out.Exhausted.History) != n || out.Attempts != n {
			t.Fatalf("history = %d attempts = %d, want %d", len(out.Exhausted.History), out.Attempts, n)
		}
		for i, h := range out.Exhausted.History {
			if want := fmt.Sprintf("ValueError: attempt %d", i+1); h.ExceptionMessage != want {
				t.Fatalf("history[%d] = %q, want %q", i, h.ExceptionMessage, want)
			}
			if h.Stdout != "partial" || h.Code == "" {
				t.Fatalf("history[%d] lost diagnostics: %+v", i, h)
			}
		}
		if len(rec.recs) != n {
			t.Fatalf("recorded %d attempts, want %d", len(rec.recs), n)
		}
	})
}

func TestSucceedsOnAttemptK(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "max_attempts")
		k := rapid.IntRange(1, n).Draw(t, "k")
		gen := &scriptedGenerator{}
		e := New(gen, &countingSandbox{succeedAt: k}, n, WithClock(&stepClock{}))

		out, err := e.Run(context.Background(), Task{Kind: "analysis", Prompt: promptWith})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !out.Succeeded() || out.Attempts != k {
			t.Fatalf("succeeded = %t attempts = %d, want %d", out.Succeeded(), out.Attempts, k)
		}
		if want := fmt.Sprintf("attempt_%d", k); !strings.Contains(out.Generation.Code, want) {
			t.Fatalf("code = %q, want the code of attempt %d", out.Generation.Code, k)
		}
		if out.Duration <= 0 {
			t.Fatalf("duration = %s", out.Duration)
		}
	})
}

func TestPromptCarriesOnlyLatestError(t *testing.T) {
	gen := &scriptedGenerator{}
	e := New(gen, &countingSandbox{}, 3)
	if _, err := e.Run(context.Background(), Task{Prompt: promptWith}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(gen.prompts[0].User, "previous error") {
		t.Fatalf("first prompt has an error: %q", gen.prompts[0].User)
	}
	third := gen.prompts[2].User
	if !strings.Contains(third, "attempt 2") || strings.Contains(third, "attempt 1") {
		t.Fatalf("third prompt should mention only attempt 2: %q", third)
	}
}

func TestGenerationFailuresAreRetried(t *testing.T) {
	gen := &scriptedGenerator{fail: func(call int) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	e := New(gen, &countingSandbox{succeedAt: 1}, 3)
	out, err := e.Run(context.Background(), Task{Prompt: promptWith})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Succeeded() || out.Attempts != 2 {
		t.Fatalf("outcome = %+v", out)
	}
}

type emptyGenerator struct{}

func (emptyGenerator) Generate(context.Context, analysis.Prompt) (analysis.Generation, error) {
	return analysis.Generation{Code: "   "}, nil
}

func TestEmptyCodeIsAFailedAttempt(t *testing.T) {
	sb := &countingSandbox{succeedAt: 1}
	out, err := New(emptyGenerator{}, sb, 2).Run(context.Background(), Task{Prompt: promptWith})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Succeeded() || len(out.Exhausted.History) != 2 || sb.calls != 0 {
		t.Fatalf("outcome = %+v sandbox calls = %d", out, sb.calls)
	}
}

func TestCheckRejectionIsRetried(t *testing.T) {
	sb := &countingSandbox{succeedAt: 1}
	checks := 0
	task := Task{Prompt: promptWith, Check: func(o analysis.Output) error {
		checks++
		if checks == 1 {
			return errors.New("analyze_data must return a DataFrame")
		}
		return nil
	}}
	out, err := New(&scriptedGenerator{}, sb, 3).Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Succeeded() || out.Attempts != 2 {
		t.Fatalf("outcome = %+v", out)
	}
}

type blockingSandbox struct{ started chan struct{} }

func (b *blockingSandbox) Execute(ctx context.Context, _ analysis.Execution) (analysis.Output, error) {
	close(b.started)
	<-ctx.Done()
	return analysis.Output{}, ctx.Err()
}

func TestCancellationDiscardsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sb := &blockingSandbox{started: make(chan struct{})}
	go func() {
		<-sb.started
		cancel()
	}()
	out, err := New(&scriptedGenerator{}, sb, 3).Run(ctx, Task{Prompt: promptWith})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out.Exhausted != nil || out.Attempts != 0 {
		t.Fatalf("cancelled run leaked an outcome: %+v", out)
	}
}

func TestAttemptTimeoutIsRetryable(t *testing.T) {
	sb := &blockingSandbox{started: make(chan struct{})}
	e := New(&scriptedGenerator{}, sb, 1, WithAttemptTimeout(10*time.Millisecond))
	out, err := e.Run(context.Background(), Task{Prompt: promptWith})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Succeeded() || !strings.Contains(out.Exhausted.Latest().ExceptionMessage, "timed out") {
		t.Fatalf("outcome = %+v", out)
	}
}

// salesGenerator misspells a column on the first attempt and fixes it once
// it sees the KeyError.
type salesGenerator struct{}

func (salesGenerator) Generate(_ context.Context, p analysis.Prompt) (analysis.Generation, error) {
	if strings.Contains(p.User, "KeyError") {
		return analysis.Generation{Code: "df.groupby(month)['amount'].sum()"}, nil
	}
	return analysis.Generation{Code: "df.groupby(month)['amont'].sum()"}, nil
}

// salesSandbox interprets the two programs above.
type salesSandbox struct{}

func (salesSandbox) Execute(_ context.Context, ex analysis.Execution) (analysis.Output, error) {
	df := ex.Bindings()["sales"]
	if strings.Contains(ex.Code, "'amont'") {
		return analysis.Output{}, &analysis.ExecutionError{Message: "KeyError: 'amont'"}
	}
	totals := map[string]float64{}
	for _, r := range df.ToRecords() {
		totals[r["date"].(string)[:7]] += r["amount"].(float64)
	}
	months := make([]string, 0, len(totals))
	for m := range totals {
		months = append(months, m)
	}
	sort.Strings(months)
	recs := make([]dataset.Record, len(months))
	for i, m := range months {
		recs[i] = dataset.Record{"month": m, "amount": totals[m]}
	}
	out, err := dataset.New("result", []string{"month", "amount"}, recs)
	return analysis.Output{Dataset: out}, err
}

func TestSalesTotalByMonthRecoversFromKeyError(t *testing.T) {
	sales, err := dataset.FromRecords("sales", []dataset.Record{
		{"date": "2024-01-03", "amount": 10.0},
		{"date": "2024-01-20", "amount": 5.0},
		{"date": "2024-02-11", "amount": 7.5},
	})
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	task := Task{
		Kind:       "analysis",
		Entrypoint: analysis.AnalyzeEntrypoint,
		Datasets:   []*dataset.Dataset{sales},
		Prompt: func(last *analysis.CodeExecutionError) analysis.Prompt {
			return promptWith(last)
		},
	}
	out, err := New(salesGenerator{}, salesSandbox{}, 3).Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Succeeded() || out.Attempts != 2 {
		t.Fatalf("succeeded = %t attempts = %d", out.Succeeded(), out.Attempts)
	}
	if out.Output.Dataset.Len() != 2 {
		t.Fatalf("want one row per month, got %v", out.Output.Dataset.ToRecords())
	}
}
