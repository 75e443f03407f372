package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore implements Repository in process memory. State does not
// survive a restart.
type MemoryStore struct {
	mu        sync.Mutex
	opts      Options
	sessions  map[string]memoryEntry
	summaries map[string]memoryEntry
}

// NewMemory creates an empty in-memory repository.
func NewMemory(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:      opts,
		sessions:  make(map[string]memoryEntry),
		summaries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) live(entries map[string]memoryEntry, key string) ([]byte, bool) {
	e, ok := entries[key]
	if !ok || !e.expiresAt.After(m.opts.now()) {
		return nil, false
	}
	return e.data, true
}

// LoadSession retrieves session state or the default state.
func (m *MemoryStore) LoadSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	data, ok := m.live(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return m.opts.defaultSession(id), nil
	}
	return decodeSession(data)
}

// SaveSession stores a copy of session state.
func (m *MemoryStore) SaveSession(_ context.Context, s *domain.Session, ttl time.Duration) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memoryEntry{data: data, expiresAt: m.opts.now().Add(ttl)}
	return nil
}

// DeleteSession removes session state and its pending summary.
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.summaries, id)
	return nil
}

// SaveSummary stores a result summary.
func (m *MemoryStore) SaveSummary(_ context.Context, sessionID string, sum domain.ResultSummary, ttl time.Duration) error {
	data, err := encodeSummary(sum)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[sessionID] = memoryEntry{data: data, expiresAt: m.opts.now().Add(ttl)}
	return nil
}

// LoadSummary retrieves a pending result summary.
func (m *MemoryStore) LoadSummary(_ context.Context, sessionID string) (*domain.ResultSummary, error) {
	m.mu.Lock()
	data, ok := m.live(m.summaries, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return decodeSummary(data)
}

// DeleteSummary removes a pending result summary.
func (m *MemoryStore) DeleteSummary(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, sessionID)
	return nil
}

// DeleteExpired removes expired sessions and summaries.
func (m *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.now()
	var n int64
	for _, entries := range []map[string]memoryEntry{m.sessions, m.summaries} {
		for k, e := range entries {
			if !e.expiresAt.After(now) {
				delete(entries, k)
				n++
			}
		}
	}
	return n, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
