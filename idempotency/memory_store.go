package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-signatures/core"
)

var ErrRecordNotFound = errors.New("idempotency: record not found")

// MemoryStore keeps records in process. Claims are serialized by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]core.IdempotencyRecord
	clock   core.Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]core.IdempotencyRecord{}}
}

// WithClock sets the time used to decide whether an existing record has expired.
func (s *MemoryStore) WithClock(clock core.Clock) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Claim(_ context.Context, record core.IdempotencyRecord) (core.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now(record)
	if existing, ok := s.records[record.Key]; ok && !existing.Expired(now) {
		return cloneRecord(existing), false, nil
	}
	record.State = core.IdempotencyStatePending
	s.records[record.Key] = cloneRecord(record)
	return core.IdempotencyRecord{}, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, requestHash string, statusCode int, body []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok || record.RequestHash != requestHash {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	record.State = core.IdempotencyStateCompleted
	record.StatusCode = statusCode
	record.Body = append([]byte(nil), body...)
	record.ExpiresAt = expiresAt
	s.records[key] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[key]; ok && record.RequestHash == requestHash && record.State == core.IdempotencyStatePending {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, record := range s.records {
		if record.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Get returns the live record for key.
func (s *MemoryStore) Get(_ context.Context, key string) (core.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return core.IdempotencyRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) now(record core.IdempotencyRecord) time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	if !record.CreatedAt.IsZero() {
		return record.CreatedAt
	}
	return time.Now().UTC()
}

func cloneRecord(record core.IdempotencyRecord) core.IdempotencyRecord {
	record.Body = append([]byte(nil), record.Body...)
	return record
}

var _ core.IdempotencyStore = (*MemoryStore)(nil)
