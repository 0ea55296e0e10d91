package prompt

import (
	"strings"
	"testing"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

func TestParseGeneration(t *testing.T) {
	cases := []struct {
		name string
		in   string
		code string
		ok   bool
	}{
		{"plain", `{"code":"def analyze_data(dfs):\n    return dfs['sales']","description":"x"}`, "def analyze_data(dfs):\n    return dfs['sales']", true},
		{"fenced reply", "```json\n{\"code\":\"x = 1\",\"description\":\"d\"}\n```", "x = 1", true},
		{"prose around", "Sure! {\"code\":\"x = 2\",\"description\":\"d\"} hope it helps", "x = 2", true},
		{"fenced code", `{"code":"` + "```python\\nx = 3\\n```" + `","description":"d"}`, "x = 3", true},
		{"empty code", `{"code":"  ","description":"d"}`, "", false},
		{"no json", "I cannot help with that", "", false},
	}
	for _, tc := range cases {
		g, err := ParseGeneration(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		if tc.ok && g.Code != tc.code {
			t.Fatalf("%s: code = %q, want %q", tc.name, g.Code, tc.code)
		}
	}
}

func TestAnalysisPromptIncludesOnlyLastError(t *testing.T) {
	sales, _ := dataset.FromRecords("sales", []dataset.Record{{"date": "2024-01-01", "amount": 3.5}})
	dict := dictionary.FromDataset(sales, "Monthly sales figure")
	req := analysis.AnalysisRequest{
		Datasets:     []*dataset.Dataset{sales},
		Dictionaries: []*dictionary.DataDictionary{dict},
		Question:     "total amount by month",
	}

	first := Analysis(req, nil)
	if strings.Contains(first.User, "previous attempt failed") {
		t.Fatal("first prompt should not mention a failure")
	}
	if !strings.Contains(first.User, "amount (float64): Monthly sales figure") {
		t.Fatalf("prompt does not describe columns:\n%s", first.User)
	}
	if !strings.Contains(first.System, "analyze_data") {
		t.Fatal("system prompt must name the entrypoint")
	}

	retry := Analysis(req, &analysis.CodeExecutionError{Code: "dfs['sales']['amont']", ExceptionMessage: "KeyError: 'amont'"})
	if !strings.Contains(retry.User, "KeyError: 'amont'") || !strings.Contains(retry.User, "dfs['sales']['amont']") {
		t.Fatalf("retry prompt lacks the failure:\n%s", retry.User)
	}
}

func TestDictionaryPromptListsViolations(t *testing.T) {
	sales, _ := dataset.FromRecords("sales", []dataset.Record{{"amount": 1.0, "region": "EU"}})
	p := Dictionary(sales, []string{"amount"}, dictionary.Violations{"description 0 must be at least 10 characters long"})
	if !strings.Contains(p.User, "at least 10 characters") || strings.Contains(p.User, "region") {
		t.Fatalf("unexpected prompt:\n%s", p.User)
	}
}
