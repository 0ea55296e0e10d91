package dictionary

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/bryanwahyu/datalyst/internal/application/reflection"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	domain "github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

// describingCompleter describes whichever columns the prompt lists.
type describingCompleter struct {
	mu    sync.Mutex
	calls int
	short bool
}

func (c *describingCompleter) Complete(_ context.Context, p analysis.Prompt) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	line := strings.SplitN(p.User, "Columns to describe: ", 2)[1]
	line = strings.SplitN(line, "\n", 2)[0]
	cols := strings.Split(line, ", ")
	g := domain.Generation{Columns: cols}
	for _, col := range cols {
		desc := "The " + col + " value for each record"
		if c.short {
			desc = "x"
		}
		g.Descriptions = append(g.Descriptions, desc)
	}
	b, _ := json.Marshal(g)
	return string(b), nil
}

type recorder struct {
	mu   sync.Mutex
	recs []*attempts.Record
}

func (r *recorder) Save(_ context.Context, rec *attempts.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recorder) ListByRequest(context.Context, string, string, int) ([]*attempts.Record, error) {
	return nil, nil
}

func wide(t *testing.T, name string, n int) *dataset.Dataset {
	t.Helper()
	rec := dataset.Record{}
	for i := 0; i < n; i++ {
		rec[string(rune('a'+i))+"_col"] = float64(i)
	}
	d, err := dataset.FromRecords(name, []dataset.Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGenerateDictionariesCoversEveryColumn(t *testing.T) {
	c := &describingCompleter{}
	svc := NewService(c, reflection.New(nil, nil, 3), nil)
	sets := []*dataset.Dataset{wide(t, "sales", 23), wide(t, "costs", 2)}

	dicts, warnings, err := svc.GenerateDictionaries(context.Background(), "s-1", "r-1", sets)
	if err != nil {
		t.Fatalf("GenerateDictionaries: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	for i, d := range dicts {
		if d.Name != sets[i].Name() || !d.Covers(sets[i]) {
			t.Fatalf("dictionary %d = %v, dataset %v", i, d.ColumnNames(), sets[i].Columns())
		}
		for _, col := range d.Columns {
			if !strings.HasPrefix(col.Description, "The "+col.Column) {
				t.Fatalf("description = %q", col.Description)
			}
		}
	}
	if c.calls != 3+1 {
		t.Fatalf("completer calls = %d, want one per batch", c.calls)
	}
}

func TestGenerateDictionariesFallsBackOnExhaustion(t *testing.T) {
	c := &describingCompleter{short: true}
	audit := &recorder{}
	svc := NewService(c, reflection.New(nil, nil, 2, reflection.WithRecorder(audit)), nil)
	d := wide(t, "sales", 3)

	dicts, warnings, err := svc.GenerateDictionaries(context.Background(), "s-1", "r-1", []*dataset.Dataset{d})
	if err != nil {
		t.Fatalf("GenerateDictionaries: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "at least 10 characters") {
		t.Fatalf("warnings = %v", warnings)
	}
	for _, col := range dicts[0].Columns {
		if col.Description != domain.DefaultDescription {
			t.Fatalf("description = %q", col.Description)
		}
	}
	if c.calls != 2 {
		t.Fatalf("calls = %d, want the attempt bound", c.calls)
	}
	if len(audit.recs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(audit.recs))
	}
	for _, r := range audit.recs {
		if r.SessionID != "s-1" || r.RequestID != "r-1" || r.Kind != "dictionary" {
			t.Fatalf("audit record = %+v", r)
		}
	}
}

func TestValidateBatchRejectsForeignColumns(t *testing.T) {
	v := validateBatch(domain.Generation{
		Columns:      []string{"amount", "ghost"},
		Descriptions: []string{"Sale amount in USD", "Not a real column"},
	}, []string{"amount", "region"})
	msg := v.Error()
	if !strings.Contains(msg, `unknown column "ghost"`) || !strings.Contains(msg, `missing column "region"`) {
		t.Fatalf("violations = %v", v)
	}
}
