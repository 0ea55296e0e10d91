package session

import (
	"testing"
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/chat"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

func mustDataset(t *testing.T, name string, recs ...dataset.Record) *dataset.Dataset {
	t.Helper()
	d, err := dataset.FromRecords(name, recs)
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	return d
}

func TestPutReplacesByName(t *testing.T) {
	s := New("s1", time.Now())
	s.PutDataset(mustDataset(t, "sales", dataset.Record{"amount": 1.0}))
	s.PutDataset(mustDataset(t, "costs", dataset.Record{"amount": 2.0}))
	s.PutDataset(mustDataset(t, "sales", dataset.Record{"amount": 3.0}, dataset.Record{"amount": 4.0}))

	if len(s.Datasets) != 2 {
		t.Fatalf("datasets = %d, want 2", len(s.Datasets))
	}
	if s.Datasets[0].Name() != "sales" || s.Datasets[0].Len() != 2 {
		t.Fatalf("sales not replaced in place: %v", s.Datasets[0].ToRecords())
	}

	s.PutDictionary(&dictionary.DataDictionary{Name: "sales"})
	s.PutDictionary(&dictionary.DataDictionary{Name: "sales", Columns: []dictionary.Column{{Column: "amount"}}})
	if len(s.Dictionaries) != 1 || len(s.Dictionaries[0].Columns) != 1 {
		t.Fatalf("dictionaries = %+v", s.Dictionaries)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := New("s1", time.Now())
	d := mustDataset(t, "sales", dataset.Record{"amount": 1.0})
	s.PutDataset(d)
	s.PutCleansed(&dataset.CleansedDataset{Dataset: d})
	s.PutDictionary(dictionary.FromDataset(d, ""))
	s.AppendMessage(chat.Message{Role: chat.RoleUser, Content: "hi"})
	before := s.Epoch()

	s.Reset()

	if len(s.Datasets)+len(s.Cleansed)+len(s.Dictionaries)+len(s.Messages) != 0 {
		t.Fatalf("reset left state behind: %+v", s)
	}
	if _, ok := s.Dictionary("sales"); ok {
		t.Fatal("dictionary still resolvable after reset")
	}
	if s.Epoch() != before+1 {
		t.Fatalf("epoch = %d, want %d", s.Epoch(), before+1)
	}
}

func TestRemoveDatasetCascades(t *testing.T) {
	s := New("s1", time.Now())
	d := mustDataset(t, "sales", dataset.Record{"amount": 1.0})
	s.PutDataset(d)
	s.PutCleansed(&dataset.CleansedDataset{Dataset: d})
	s.PutDictionary(dictionary.FromDataset(d, ""))

	s.RemoveDataset("sales")
	if len(s.Datasets)+len(s.Cleansed)+len(s.Dictionaries) != 0 {
		t.Fatalf("remove left references: %+v", s)
	}
}

func TestAnalysisDatasetsPrefersCleansed(t *testing.T) {
	s := New("s1", time.Now())
	raw := mustDataset(t, "sales", dataset.Record{"Amount ": "1,000"})
	clean := mustDataset(t, "sales", dataset.Record{"amount": 1000.0})
	s.PutDataset(raw)
	s.PutCleansed(&dataset.CleansedDataset{Dataset: clean})

	got := s.AnalysisDatasets()
	if len(got) != 1 || got[0] != clean {
		t.Fatalf("AnalysisDatasets = %v", got)
	}

	snap := s.Snapshot()
	s.Reset()
	if len(snap.Datasets) != 1 {
		t.Fatal("snapshot shares registries with the live state")
	}
}
