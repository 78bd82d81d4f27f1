package store

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore deduplicates webhook deliveries by their client-supplied
// key within a TTL window.
type IdempotencyStore interface {
	// Remember records key -> requestID on first sighting and reports
	// replay=false. A replay within TTL returns the stored requestID and
	// replay=true without overwriting.
	Remember(ctx context.Context, key, requestID string) (storedID string, replay bool, err error)
}

type idempotencyEntry struct {
	requestID string
	expires   time.Time
}

// MemoryIdempotencyStore is the in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{ttl: ttl, entries: make(map[string]idempotencyEntry)}
}

func (s *MemoryIdempotencyStore) Remember(_ context.Context, key, requestID string) (string, bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && now.Before(existing.expires) {
		return existing.requestID, true, nil
	}

	if len(s.entries)%64 == 0 {
		for k, existing := range s.entries {
			if now.After(existing.expires) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[key] = idempotencyEntry{requestID: requestID, expires: now.Add(s.ttl)}
	return requestID, false, nil
}
