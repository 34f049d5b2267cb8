package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Each session has its own lock so
// appends to different keys do not contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	mu sync.Mutex
	s  Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) entry(key string) (*memorySession, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	e, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[key]; ok {
		return e, nil
	}
	now := time.Now().UTC()
	e = &memorySession{s: Session{
		Key:         key,
		Preferences: DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	m.sessions[key] = e
	return e, nil
}

// GetOrCreate returns a copy of the session.
func (m *MemoryStore) GetOrCreate(_ context.Context, key string) (*Session, error) {
	e, err := m.entry(key)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cpy := e.s
	cpy.History = tail(e.s.History, 0)
	return &cpy, nil
}

// AppendRecord adds a record and returns the updated statistics.
func (m *MemoryStore) AppendRecord(_ context.Context, key string, rec Record) (Statistics, error) {
	e, err := m.entry(key)
	if err != nil {
		return Statistics{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.s.History = append(e.s.History, rec.withDefaults(now).clone())
	e.s.Statistics = e.s.Statistics.Add(rec)
	e.s.UpdatedAt = now
	return e.s.Statistics, nil
}

// UpdatePreferences applies a partial update.
func (m *MemoryStore) UpdatePreferences(_ context.Context, key string, upd PreferencesUpdate) (Preferences, error) {
	e, err := m.entry(key)
	if err != nil {
		return Preferences{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := upd.Apply(e.s.Preferences)
	if err != nil {
		return Preferences{}, err
	}
	e.s.Preferences = p
	e.s.UpdatedAt = time.Now().UTC()
	return p, nil
}

// GetHistory returns recent records in chronological order.
func (m *MemoryStore) GetHistory(_ context.Context, key string, limit int) ([]Record, error) {
	e, err := m.entry(key)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return tail(e.s.History, limit), nil
}

// GetStatistics returns the session statistics.
func (m *MemoryStore) GetStatistics(_ context.Context, key string) (Statistics, error) {
	e, err := m.entry(key)
	if err != nil {
		return Statistics{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Statistics, nil
}

// Len returns the number of sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
