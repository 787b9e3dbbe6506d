package eventlog

import (
	"context"
	"sync"
	"time"
)

// StateKey addresses one processed event, normally keyed by event id.
type StateKey struct {
	FlowType  string
	EventType string
	Key       string
}

// StateStore records which events were already applied so a redelivery can
// be acknowledged without re-running its handler. Entries expire after a TTL.
type StateStore interface {
	IsProcessed(ctx context.Context, key StateKey) (bool, error)
	SetProcessed(ctx context.Context, key StateKey) error
}

type MemoryStateStore struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[StateKey]time.Time
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		TTL:     ttl,
		Now:     time.Now,
		entries: map[StateKey]time.Time{},
	}
}

func (s *MemoryStateStore) IsProcessed(_ context.Context, key StateKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !s.Now().Before(expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStateStore) SetProcessed(_ context.Context, key StateKey) error {
	s.mu.Lock()
	s.entries[key] = s.Now().Add(s.TTL)
	s.mu.Unlock()
	return nil
}
