package session

import (
	"context"
	"sync"
	"time"

	"agendas/api/internal/clock"
)

// MemoryStore keeps sessions in process. Used when no Redis is configured.
type MemoryStore struct {
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{clock: c, sessions: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(_ context.Context, tokenHash string, record Record, expiresAt time.Time) error {
	now := s.clock.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	if !expiresAt.After(now) {
		expiresAt = now.Add(DefaultTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = memoryEntry{record: record, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, tokenHash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[tokenHash]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.sessions, tokenHash)
		return Record{}, ErrNotFound
	}
	return entry.record, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
