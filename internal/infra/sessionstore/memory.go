// Package sessionstore implements port.SessionStore. Every write is
// version-checked and locks are advisory, so callers behave the same against
// the in-process store and the shared Redis store.
package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.SessionStore = (*Memory)(nil)

const lockPollInterval = 5 * time.Millisecond

type record struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// Memory is a single-process session store. Sessions are held as encoded
// bytes so callers never share pointers with the store.
type Memory struct {
	mu      sync.Mutex
	records map[string]record
	locks   map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a store whose sessions live for ttl unless expired
// earlier.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Memory{
		records: make(map[string]record),
		locks:   make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the store's clock.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Get returns the session or *domain.ErrNotFound.
func (m *Memory) Get(ctx context.Context, callID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	rec, ok := m.live(callID)
	m.mu.Unlock()
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: callID}
	}
	return domain.UnmarshalSession(rec.data)
}

// Create stores s at version 1 unless a live session already exists.
func (m *Memory) Create(ctx context.Context, s *domain.Session) (*domain.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.live(s.ID); ok {
		existing, err := domain.UnmarshalSession(rec.data)
		return existing, false, err
	}

	stored := s.Clone()
	stored.Version = 1
	m.records[s.ID] = record{
		data:      domain.MustMarshalSession(stored),
		version:   stored.Version,
		expiresAt: m.now().Add(m.ttl),
	}
	return stored, true, nil
}

// Update writes s if its version matches the stored one.
func (m *Memory) Update(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.live(s.ID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: s.ID}
	}
	if rec.version != s.Version {
		return nil, &domain.ErrVersionConflict{CallID: s.ID, Expected: s.Version, Actual: rec.version}
	}

	stored := s.Clone()
	stored.Version = rec.version + 1
	m.records[s.ID] = record{
		data:      domain.MustMarshalSession(stored),
		version:   stored.Version,
		expiresAt: rec.expiresAt,
	}
	return stored, nil
}

// Expire shortens a session's lifetime to grace from now.
func (m *Memory) Expire(ctx context.Context, callID string, grace time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.live(callID)
	if !ok {
		return nil
	}
	rec.expiresAt = m.now().Add(grace)
	m.records[callID] = rec
	return nil
}

// Lock blocks until key is free or ctx is done. A lock not released within
// ttl lapses.
func (m *Memory) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		m.mu.Lock()
		now := m.now()
		if until, held := m.locks[key]; !held || now.After(until) {
			deadline := now.Add(ttl)
			m.locks[key] = deadline
			m.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					if m.locks[key].Equal(deadline) {
						delete(m.locks, key)
					}
					m.mu.Unlock()
				})
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// live returns the record if present and unexpired. Caller holds m.mu.
func (m *Memory) live(callID string) (record, bool) {
	rec, ok := m.records[callID]
	if !ok {
		return record{}, false
	}
	if m.now().After(rec.expiresAt) {
		delete(m.records, callID)
		return record{}, false
	}
	return rec, true
}
