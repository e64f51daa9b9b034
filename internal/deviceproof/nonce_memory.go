package deviceproof

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceStore is a process-local NonceStore for tests and single-node
// development. It does not coordinate across processes.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryNonceStore constructs an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]time.Time), now: time.Now}
}

// Consume implements NonceStore.
func (s *MemoryNonceStore) Consume(_ context.Context, tenantID, deviceID, nonce string, ttl time.Duration) (bool, error) {
	key := NonceKey(tenantID, deviceID, nonce)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	if len(s.entries) > 4096 {
		for k, exp := range s.entries {
			if !now.Before(exp) {
				delete(s.entries, k)
			}
		}
	}
	return true, nil
}
