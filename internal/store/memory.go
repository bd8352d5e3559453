package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
)

type indicatorRowKey struct {
	scope    scope.Key
	category string
	kpiName  string
}

// MemoryStore keeps rows in process memory. It follows the same conflict
// rules as SQLStore.
type MemoryStore struct {
	mu         sync.RWMutex
	indicators map[indicatorRowKey]board.Record
	metadata   map[scope.MeetingKey]board.Metadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indicators: map[indicatorRowKey]board.Record{},
		metadata:   map[scope.MeetingKey]board.Metadata{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func rowKey(key scope.Key, record board.Record) indicatorRowKey {
	return indicatorRowKey{scope: key, category: record.Category, kpiName: record.KPIName}
}

// stored strips fields that are never persisted.
func stored(record board.Record) board.Record {
	record.Explanation = ""
	return record
}

func (s *MemoryStore) SelectIndicators(_ context.Context, key scope.Key) ([]board.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []board.Record
	for k, record := range s.indicators {
		if k.scope == key {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *MemoryStore) BulkInsertIndicators(_ context.Context, key scope.Key, records []board.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[indicatorRowKey]bool{}
	for _, record := range records {
		k := rowKey(key, record)
		if _, exists := s.indicators[k]; exists || seen[k] {
			return fmt.Errorf("bulk insert %s %q: %w", key, record.KPIName, ErrConflict)
		}
		seen[k] = true
	}
	for _, record := range records {
		s.indicators[rowKey(key, record)] = stored(record)
	}
	return nil
}

func (s *MemoryStore) UpsertIndicator(_ context.Context, key scope.Key, record board.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[rowKey(key, record)] = stored(record)
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, key scope.MeetingKey) (board.Metadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[key]
	if !ok {
		return board.Metadata{}, false, nil
	}
	return meta.Clone(), true, nil
}

func (s *MemoryStore) InsertMetadata(_ context.Context, key scope.MeetingKey, meta board.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.metadata[key]; exists {
		return fmt.Errorf("insert metadata %s: %w", key, ErrConflict)
	}
	s.metadata[key] = meta.Clone()
	return nil
}

func (s *MemoryStore) UpsertMetadata(_ context.Context, key scope.MeetingKey, meta board.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = meta.Clone()
	return nil
}

func (s *MemoryStore) SearchIndicators(_ context.Context, query string, limit int) ([]IndicatorEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	var entries []IndicatorEntry
	for k, record := range s.indicators {
		if strings.Contains(strings.ToLower(record.Actions), needle) || strings.Contains(strings.ToLower(record.KPIName), needle) {
			entries = append(entries, IndicatorEntry{Scope: k.scope, Record: record})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b IndicatorEntry) int {
		if c := b.Scope.Date.Time().Compare(a.Scope.Date.Time()); c != 0 {
			return c
		}
		return compareEntries(a, b)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) ListIndicators(context.Context) ([]IndicatorEntry, error) {
	s.mu.RLock()
	var entries []IndicatorEntry
	for k, record := range s.indicators {
		if record.Actions != "" {
			entries = append(entries, IndicatorEntry{Scope: k.scope, Record: record})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b IndicatorEntry) int {
		if c := a.Scope.Date.Time().Compare(b.Scope.Date.Time()); c != 0 {
			return c
		}
		return compareEntries(a, b)
	})
	return entries, nil
}

func compareEntries(a, b IndicatorEntry) int {
	return cmp.Or(
		cmp.Compare(a.Scope.Kind, b.Scope.Kind),
		cmp.Compare(a.Scope.BranchID, b.Scope.BranchID),
		cmp.Compare(a.Record.Category, b.Record.Category),
		cmp.Compare(a.Record.KPIName, b.Record.KPIName),
	)
}
