package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/trustlog/internal/model"
)

// Memory is an in-process Store for tests and embedded SDK use.
// Entries live in a slice indexed by sequence-1; reads copy so callers
// can never reach the committed data through a returned entry.
type Memory struct {
	mu      sync.RWMutex
	entries []model.LogEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Tail(_ context.Context) (Tail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return Tail{Sequence: 0, Hash: model.GenesisHash}, nil
	}
	last := m.entries[len(m.entries)-1]
	return Tail{Sequence: last.Sequence, Hash: last.IntegrityHash}, nil
}

func (m *Memory) Insert(_ context.Context, e *model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Sequence != int64(len(m.entries))+1 {
		return ErrStaleTail
	}
	m.entries = append(m.entries, cloneEntry(e))
	return nil
}

func (m *Memory) Range(_ context.Context, from, to int64) ([]model.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.LogEntry
	for _, e := range m.entries {
		if e.Sequence < from || e.Sequence > to {
			continue
		}
		out = append(out, cloneEntry(&e))
	}
	return out, nil
}

func (m *Memory) Query(_ context.Context, q model.QueryRequest) ([]model.LogEntry, int64, error) {
	m.mu.RLock()
	var matched []model.LogEntry
	for _, e := range m.entries {
		if matches(&e, q.Filter) {
			matched = append(matched, cloneEntry(&e))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if q.Order == model.OccurredAsc {
			if !a.OccurredAt.Equal(b.OccurredAt) {
				return a.OccurredAt.Before(b.OccurredAt)
			}
			return a.Sequence < b.Sequence
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.Sequence > b.Sequence
	})

	total := int64(len(matched))
	if q.Offset >= len(matched) {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end], total, nil
}

func (m *Memory) Close() error { return nil }

// tamper overwrites a committed entry in place. Only reachable from
// package tests — it exists to simulate storage-level corruption.
func (m *Memory) tamper(sequence int64, mutate func(*model.LogEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.entries[sequence-1])
}

func searchMatch(e *model.LogEntry, needle string) bool {
	n := strings.ToLower(needle)
	if strings.Contains(strings.ToLower(e.EventType), n) {
		return true
	}
	if strings.Contains(strings.ToLower(e.ActorID), n) {
		return true
	}
	if e.Resource != nil && strings.Contains(strings.ToLower(*e.Resource), n) {
		return true
	}
	return false
}

func cloneEntry(e *model.LogEntry) model.LogEntry {
	c := *e
	c.Resource = clonePtr(e.Resource)
	c.ResourceID = clonePtr(e.ResourceID)
	c.Outcome = clonePtr(e.Outcome)
	c.IPAddress = clonePtr(e.IPAddress)
	c.UserAgent = clonePtr(e.UserAgent)
	if e.Metadata != nil {
		c.Metadata = cloneMap(e.Metadata)
	}
	return c
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}
