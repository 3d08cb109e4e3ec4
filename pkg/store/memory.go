package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/go-logr/logr"
	"golang.org/x/exp/maps"
)

// Memory keeps records in memory. Its contents are
// lost when the process exits.
type Memory struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

func NewMemory() *Memory {
	return &Memory{records: map[Key]*Record{}}
}

func (m *Memory) Register(ctx context.Context, rec *Record) (bool, error) {
	key := rec.Key()
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[key]; ok {
		if err := accept(existing, rec); err != nil {
			return false, err
		}
		existing.Restore = rec.Restore
		existing.CandidateID = rec.CandidateID
		existing.Revision = rec.Revision
		logr.FromContextOrDiscard(ctx).V(2).Info("refreshed record", "key", key.String())
		return false, nil
	}
	m.records[key] = rec.clone()
	return true, nil
}

func (m *Memory) Refresh(_ context.Context, key Key, sourceID string, rd sources.RestoreDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if existing.SourceID != sourceID {
		return fmt.Errorf("%w: %s is owned by source %s", ErrConflict, key, existing.SourceID)
	}
	existing.Restore = rd
	return nil
}

func (m *Memory) Get(_ context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec.clone(), nil
}

func (m *Memory) Delete(_ context.Context, key Key, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if existing.SourceID != sourceID {
		return fmt.Errorf("%w: %s is owned by source %s", ErrConflict, key, existing.SourceID)
	}
	delete(m.records, key)
	return nil
}

func (m *Memory) List(_ context.Context, distribution, component, arch string) ([]*control.Fields, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*control.Fields
	for k, rec := range m.records {
		if k.Distribution == distribution && k.Component == component && k.Architecture == arch {
			out = append(out, rec.Control.Clone())
		}
	}
	return out, nil
}

func (m *Memory) Components(_ context.Context, distribution string) ([]string, error) {
	return m.collect(func(k Key) (string, bool) {
		return k.Component, k.Distribution == distribution
	}), nil
}

func (m *Memory) Architectures(_ context.Context, distribution string) ([]string, error) {
	return m.collect(func(k Key) (string, bool) {
		return k.Architecture, k.Distribution == distribution
	}), nil
}

func (m *Memory) Distributions(context.Context) ([]string, error) {
	return m.collect(func(k Key) (string, bool) {
		return k.Distribution, true
	}), nil
}

func (m *Memory) Sources(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := map[string]struct{}{}
	for _, rec := range m.records {
		set[rec.SourceID] = struct{}{}
	}
	return sorted(set), nil
}

func (m *Memory) Candidates(_ context.Context, sourceID string) (map[string]Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]Registration{}
	for k, rec := range m.records {
		if rec.SourceID == sourceID && rec.CandidateID != "" {
			out[rec.CandidateID] = Registration{Key: k, Revision: rec.Revision}
		}
	}
	return out, nil
}

func (m *Memory) DeleteSource(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for k, rec := range m.records {
		if rec.SourceID == sourceID {
			delete(m.records, k)
			count++
		}
	}
	return count, nil
}

func (*Memory) Close() error {
	return nil
}

func (m *Memory) collect(fn func(k Key) (string, bool)) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := map[string]struct{}{}
	for k := range m.records {
		if v, ok := fn(k); ok {
			set[v] = struct{}{}
		}
	}
	return sorted(set)
}

func sorted(set map[string]struct{}) []string {
	out := maps.Keys(set)
	slices.Sort(out)
	return out
}
