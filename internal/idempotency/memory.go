package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	res     *Result
	locked  bool
	expires time.Time
}

// MemoryStore is a process-local Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry), now: time.Now}
}

func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// GetResult implements Store.
func (s *MemoryStore) GetResult(_ context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.live(key); e != nil && e.res != nil {
		c := *e.res
		return &c, nil
	}
	return nil, nil
}

// AcquireLock implements Store.
func (s *MemoryStore) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.live(key); e != nil {
		return false, nil
	}
	s.entries[key] = &memEntry{locked: true, expires: s.now().Add(ttl)}
	return true, nil
}

// SetResult implements Store.
func (s *MemoryStore) SetResult(_ context.Context, key string, res Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := res
	s.entries[key] = &memEntry{res: &c, expires: s.now().Add(ttl)}
	return nil
}

// ReleaseLock implements Store.
func (s *MemoryStore) ReleaseLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.res == nil {
		delete(s.entries, key)
	}
	return nil
}
