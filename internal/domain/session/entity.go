package session

import (
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/chat"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

// State holds every session-scoped registry. Registries are keyed by dataset
// name; putting an entry with an existing name replaces it in place.
// State is not safe for concurrent use; the Store serializes access.
type State struct {
	ID           string
	CreatedAt    time.Time
	Datasets     []*dataset.Dataset
	Cleansed     []*dataset.CleansedDataset
	Dictionaries []*dictionary.DataDictionary
	Messages     []chat.Message

	epoch uint64
}

func New(id string, now time.Time) *State {
	return &State{ID: id, CreatedAt: now}
}

// Epoch increments on every Reset. Work started before a reset carries the
// old epoch and must not be committed.
func (s *State) Epoch() uint64 { return s.epoch }

// PutDataset adds or replaces a dataset by name.
func (s *State) PutDataset(d *dataset.Dataset) {
	for i, cur := range s.Datasets {
		if cur.Name() == d.Name() {
			s.Datasets[i] = d
			return
		}
	}
	s.Datasets = append(s.Datasets, d)
}

// PutCleansed adds or replaces a cleansed dataset by name.
func (s *State) PutCleansed(c *dataset.CleansedDataset) {
	for i, cur := range s.Cleansed {
		if cur.Name() == c.Name() {
			s.Cleansed[i] = c
			return
		}
	}
	s.Cleansed = append(s.Cleansed, c)
}

// PutDictionary adds or replaces a dictionary by name.
func (s *State) PutDictionary(d *dictionary.DataDictionary) {
	for i, cur := range s.Dictionaries {
		if cur.Name == d.Name {
			s.Dictionaries[i] = d
			return
		}
	}
	s.Dictionaries = append(s.Dictionaries, d)
}

func (s *State) Dataset(name string) (*dataset.Dataset, bool) {
	for _, d := range s.Datasets {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

func (s *State) Dictionary(name string) (*dictionary.DataDictionary, bool) {
	for _, d := range s.Dictionaries {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// AnalysisDatasets prefers the cleansed version of each dataset.
func (s *State) AnalysisDatasets() []*dataset.Dataset {
	out := make([]*dataset.Dataset, 0, len(s.Datasets))
	for _, d := range s.Datasets {
		picked := d
		for _, c := range s.Cleansed {
			if c.Name() == d.Name() {
				picked = c.Dataset
				break
			}
		}
		out = append(out, picked)
	}
	return out
}

// RemoveDataset drops a dataset together with its cleansed copy and
// dictionary.
func (s *State) RemoveDataset(name string) {
	s.Datasets = filter(s.Datasets, func(d *dataset.Dataset) bool { return d.Name() != name })
	s.Cleansed = filter(s.Cleansed, func(c *dataset.CleansedDataset) bool { return c.Name() != name })
	s.Dictionaries = filter(s.Dictionaries, func(d *dictionary.DataDictionary) bool { return d.Name != name })
}

func (s *State) AppendMessage(m chat.Message) {
	s.Messages = append(s.Messages, m)
}

// Reset clears all registries at once and starts a new epoch.
func (s *State) Reset() {
	s.Datasets = nil
	s.Cleansed = nil
	s.Dictionaries = nil
	s.Messages = nil
	s.epoch++
}

// Snapshot returns a copy whose slices can be read without the Store lock.
// Elements are shared; datasets and dictionaries are treated as immutable.
func (s *State) Snapshot() *State {
	return &State{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Datasets:     append([]*dataset.Dataset(nil), s.Datasets...),
		Cleansed:     append([]*dataset.CleansedDataset(nil), s.Cleansed...),
		Dictionaries: append([]*dictionary.DataDictionary(nil), s.Dictionaries...),
		Messages:     append([]chat.Message(nil), s.Messages...),
		epoch:        s.epoch,
	}
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
