package reflection

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
)

type countingObserver struct {
	ok, failed, exhausted int
}

func (o *countingObserver) AttemptFinished(_ string, ok bool) {
	if ok {
		o.ok++
	} else {
		o.failed++
	}
}

func (o *countingObserver) Exhausted(string) { o.exhausted++ }

func TestRetryAttemptCounts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		k := rapid.IntRange(1, n+1).Draw(t, "k") // k == n+1 never succeeds
		obs := &countingObserver{}
		e := New(nil, nil, n, WithObserver(obs))

		calls := 0
		out, err := e.Retry(context.Background(), Task{Kind: "business_insight"}, func(_ context.Context, last *analysis.CodeExecutionError) error {
			calls++
			if calls > 1 && last == nil {
				t.Fatalf("call %d got no previous failure", calls)
			}
			if calls < k {
				return errors.New("bottom_line is empty")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Retry: %v", err)
		}
		if k <= n {
			if !out.Succeeded() || out.Attempts != k || obs.ok != 1 || obs.failed != k-1 {
				t.Fatalf("outcome = %+v observer = %+v", out, obs)
			}
			return
		}
		if out.Succeeded() || len(out.Exhausted.History) != n || obs.exhausted != 1 || calls != n {
			t.Fatalf("outcome = %+v observer = %+v calls = %d", out, obs, calls)
		}
	})
}
