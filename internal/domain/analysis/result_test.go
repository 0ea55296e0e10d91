package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

func genHistory(t *rapid.T) []*CodeExecutionError {
	n := rapid.IntRange(0, 5).Draw(t, "n")
	out := make([]*CodeExecutionError, n)
	for i := range out {
		if rapid.Bool().Draw(t, "nil") {
			continue
		}
		out[i] = &CodeExecutionError{
			Code:             rapid.String().Draw(t, "code"),
			ExceptionMessage: rapid.StringMatching(`[A-Za-z]+Error: .{0,20}`).Draw(t, "msg"),
		}
	}
	return out
}

func TestStatusMatchesException(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		meta := Metadata{Attempts: rapid.IntRange(1, 5).Draw(t, "attempts")}
		failed := rapid.Bool().Draw(t, "failed")

		var results []interface {
			Status() Status
		}
		if failed {
			ex := NewReflectionExhaustedError(genHistory(t))
			results = append(results, AnalysisFailed(meta, ex), ChartFailed(meta, ex), InsightFailed(meta, ex))
		} else {
			meta.Exception = NewReflectionExhaustedError(genHistory(t))
			results = append(results,
				AnalysisSucceeded(nil, "x = 1", "", meta),
				ChartSucceeded("{}", "{}", "x = 1", meta),
				InsightSucceeded("up", "", nil, meta),
			)
		}
		for _, r := range results {
			want := StatusSuccess
			if failed {
				want = StatusError
			}
			if r.Status() != want {
				t.Fatalf("%T status = %s, want %s", r, r.Status(), want)
			}
		}
	})
}

func TestReflectionExhaustedFiltersNil(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := genHistory(t)
		nonNil := 0
		for _, e := range h {
			if e != nil {
				nonNil++
			}
		}
		ex := NewReflectionExhaustedError(h)
		if len(ex.History) != nonNil {
			t.Fatalf("history = %d, want %d", len(ex.History), nonNil)
		}
	})
}

func TestResultJSONCarriesStatus(t *testing.T) {
	ds, _ := dataset.FromRecords("monthly", []dataset.Record{{"month": "2024-01", "total": 15.0}})
	ok := AnalysisSucceeded(ds, "def analyze_data(dfs): ...", "sum by month", Metadata{Attempts: 2})
	b, err := json.Marshal(ok)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"status":"success"`) || strings.Contains(string(b), `"exception"`) {
		t.Fatalf("unexpected JSON %s", b)
	}

	var back AnalysisResult
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Status() != StatusSuccess || !back.Dataset.Equal(ds) {
		t.Fatalf("round trip lost data: %+v", back)
	}

	failed := ChartFailed(Metadata{Attempts: 3}, NewReflectionExhaustedError([]*CodeExecutionError{{ExceptionMessage: "boom"}}))
	b, _ = json.Marshal(failed)
	if !strings.Contains(string(b), `"status":"error"`) || !strings.Contains(string(b), `"exception_history"`) {
		t.Fatalf("unexpected JSON %s", b)
	}
}

func TestUnmarshalRejectsContradictoryStatus(t *testing.T) {
	var r BusinessInsightResult
	err := json.Unmarshal([]byte(`{"status":"error","bottom_line":"fine","metadata":{"attempts":1}}`), &r)
	if err == nil {
		t.Fatal("expected error for status without exception")
	}
}

func TestSnapshotCopiesExecutionDetails(t *testing.T) {
	err := &ExecutionError{Message: "KeyError: 'amont'", Stderr: "trace", Traceback: "line 3"}
	snap := Snapshot("df['amont']", err)
	if snap.ExceptionMessage != "KeyError: 'amont'" || snap.Traceback != "line 3" || snap.Code != "df['amont']" {
		t.Fatalf("snapshot = %+v", snap)
	}

	snap = Snapshot("", &GenerationError{Err: errors.New("timeout")})
	if snap.ExceptionMessage != "code generation failed: timeout" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestAnalysisRequestValidate(t *testing.T) {
	ds, _ := dataset.FromRecords("sales", []dataset.Record{{"amount": 1.0}})
	cases := []struct {
		name string
		req  AnalysisRequest
		ok   bool
	}{
		{"valid", AnalysisRequest{Datasets: []*dataset.Dataset{ds}, Question: "total?"}, true},
		{"blank question", AnalysisRequest{Datasets: []*dataset.Dataset{ds}, Question: "  "}, false},
		{"no datasets", AnalysisRequest{Question: "total?"}, false},
		{"bad kind", AnalysisRequest{Kind: KindCharts, Datasets: []*dataset.Dataset{ds}, Question: "q"}, false},
	}
	for _, tc := range cases {
		err := tc.req.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		var ve *ValidationError
		if err != nil && !errors.As(err, &ve) {
			t.Fatalf("%s: want ValidationError, got %T", tc.name, err)
		}
	}
}
