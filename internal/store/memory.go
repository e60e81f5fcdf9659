package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store backed by a plain map guarded by an
// RWMutex. GetTarget scans every prefix (acceptable for the route-table
// sizes this proxy targets, per spec.md §4.1).
type Memory struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]Record)}
}

func (m *Memory) GetTarget(_ context.Context, path string) (Record, error) {
	norm, err := Normalize(path)
	if err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix, rec, ok := LongestMatch(m.data, norm)
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Prefix = prefix
	return rec, nil
}

func (m *Memory) Get(_ context.Context, prefix string) (Record, error) {
	norm, err := Normalize(prefix)
	if err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[norm]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Prefix = norm
	return rec, nil
}

func (m *Memory) GetAll(_ context.Context) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.data))
	for k, v := range m.data {
		v.Prefix = k
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Add(_ context.Context, prefix string, rec Record) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[norm]; ok {
		merged, err := MergeData(existing.Data, rec.Data)
		if err != nil {
			return err
		}
		existing.Target = rec.Target
		existing.Data = merged
		existing.LastActivity = rec.LastActivity
		m.data[norm] = existing
		return nil
	}
	rec.Prefix = norm
	m.data[norm] = rec
	return nil
}

func (m *Memory) Update(_ context.Context, prefix string, p Patch) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[norm]
	if !ok {
		return ErrNotFound
	}
	if p.Target != nil {
		rec.Target = *p.Target
	}
	if p.LastActivity != nil {
		rec.LastActivity = *p.LastActivity
	}
	if len(p.Data) > 0 {
		merged, err := MergeData(rec.Data, p.Data)
		if err != nil {
			return err
		}
		rec.Data = merged
	}
	m.data[norm] = rec
	return nil
}

func (m *Memory) Remove(_ context.Context, prefix string) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, norm)
	return nil
}

func (m *Memory) Close() error { return nil }
