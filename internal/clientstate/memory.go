package clientstate

import (
	"context"
	"sync"
)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	session RetainedSession
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (RetainedSession, error) {
	if err := ctx.Err(); err != nil {
		return RetainedSession{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return RetainedSession{}, ErrClosed
	}
	return m.session, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s RetainedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.session = s
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, fn func(*RetainedSession) error) (RetainedSession, error) {
	if err := ctx.Err(); err != nil {
		return RetainedSession{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return RetainedSession{}, ErrClosed
	}
	next := m.session
	if err := fn(&next); err != nil {
		return m.session, err
	}
	m.session = next
	return next, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
