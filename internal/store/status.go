// Package store holds the process-wide keyed stores: request status,
// idempotency keys, and the review archive. Every store exists in a memory
// form for tests and Postgres-less deployments, and a Postgres form for
// durable setups.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/reviewpilot/pkg/models"
)

// StatusEntry is one request's lifecycle record. It round-trips through a
// flat string-keyed map so stream stores and SQL rows share one shape.
type StatusEntry struct {
	RequestID        string               `json:"request_id"`
	State            models.RequestState  `json:"status"`
	Result           *models.ReviewResult `json:"result,omitempty"`
	Error            string               `json:"error,omitempty"`
	ProcessingTimeMs int64                `json:"processing_time_ms,omitempty"`
}

// Fields flattens the entry into the canonical string-keyed map.
func (e StatusEntry) Fields() (map[string]string, error) {
	fields := map[string]string{"status": string(e.State)}
	if e.Result != nil {
		encoded, err := json.Marshal(e.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		fields["result"] = string(encoded)
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	if e.ProcessingTimeMs > 0 {
		fields["processingTimeMs"] = fmt.Sprintf("%d", e.ProcessingTimeMs)
	}
	return fields, nil
}

// ErrIllegalTransition is wrapped into errors rejecting a backward state
// move. Terminal states never transition.
var ErrIllegalTransition = fmt.Errorf("illegal status transition")

// StatusStore tracks request lifecycle with per-entry TTL. Writes are
// single-writer per key (the worker owning the job, plus the one PENDING
// write at submission); reads may observe a slightly stale state.
type StatusStore interface {
	// MarkPending records the initial state. It is a no-op when the entry
	// already exists, which tolerates the submit/worker write race.
	MarkPending(ctx context.Context, requestID string) error
	MarkProcessing(ctx context.Context, requestID string) error
	MarkCompleted(ctx context.Context, requestID string, result models.ReviewResult, elapsed time.Duration) error
	MarkFailed(ctx context.Context, requestID string, message string, elapsed time.Duration) error

	// Get returns the entry and whether it exists (within TTL).
	Get(ctx context.Context, requestID string) (StatusEntry, bool, error)
}

type memoryStatusEntry struct {
	entry   StatusEntry
	expires time.Time
}

// MemoryStatusStore is the in-process StatusStore.
type MemoryStatusStore struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]memoryStatusEntry
}

func NewMemoryStatusStore(ttl time.Duration) *MemoryStatusStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStatusStore{ttl: ttl, entries: make(map[string]memoryStatusEntry)}
}

func (s *MemoryStatusStore) MarkPending(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[requestID]; ok && time.Now().Before(existing.expires) {
		return nil
	}
	s.put(requestID, StatusEntry{RequestID: requestID, State: models.StatePending})
	return nil
}

func (s *MemoryStatusStore) MarkProcessing(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(requestID, StatusEntry{RequestID: requestID, State: models.StateProcessing})
}

func (s *MemoryStatusStore) MarkCompleted(_ context.Context, requestID string, result models.ReviewResult, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(requestID, StatusEntry{
		RequestID:        requestID,
		State:            models.StateCompleted,
		Result:           &result,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
}

func (s *MemoryStatusStore) MarkFailed(_ context.Context, requestID string, message string, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(requestID, StatusEntry{
		RequestID:        requestID,
		State:            models.StateFailed,
		Error:            message,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
}

func (s *MemoryStatusStore) Get(_ context.Context, requestID string) (StatusEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.entries[requestID]
	if !ok || time.Now().After(existing.expires) {
		return StatusEntry{}, false, nil
	}
	return existing.entry, true, nil
}

// transition enforces the forward-only state machine. A missing or expired
// entry accepts any state: the worker may outrun the submitter's PENDING
// write, or the entry may have lapsed mid-job.
func (s *MemoryStatusStore) transition(requestID string, next StatusEntry) error {
	if existing, ok := s.entries[requestID]; ok && time.Now().Before(existing.expires) {
		if !existing.entry.State.CanTransitionTo(next.State) {
			return fmt.Errorf("%w: %s -> %s for request %s", ErrIllegalTransition, existing.entry.State, next.State, requestID)
		}
	}
	s.put(requestID, next)
	return nil
}

func (s *MemoryStatusStore) put(requestID string, entry StatusEntry) {
	// opportunistic sweep keeps the map from accumulating dead entries
	if len(s.entries)%64 == 0 {
		now := time.Now()
		for key, existing := range s.entries {
			if now.After(existing.expires) {
				delete(s.entries, key)
			}
		}
	}
	s.entries[requestID] = memoryStatusEntry{entry: entry, expires: time.Now().Add(s.ttl)}
}
