package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps nonces in process memory; suitable for tests and single-node
// development only. Issued nonces do not expire.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	claims  map[string]string // binding -> nonce
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		claims:  make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) Issue(_ context.Context, nonce, binding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[nonce]; ok {
		return ErrReplayDetected
	}
	s.records[nonce] = Record{Nonce: nonce, Binding: binding, Status: StatusIssued, IssuedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, nonce, binding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[nonce]
	if !ok || rec.Binding != binding {
		return ErrNotIssued
	}
	if rec.Status != StatusIssued {
		return ErrReplayDetected
	}
	if _, spent := s.claims[binding]; spent {
		return ErrProofSpent
	}
	rec.Status = StatusPending
	rec.ReservedAt = s.now().UTC()
	s.records[nonce] = rec
	s.claims[binding] = nonce
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, nonce string, status Status, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[nonce]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.Receipt = receipt
	rec.ConsumedAt = s.now().UTC()
	s.records[nonce] = rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[nonce]
	if !ok || rec.Status != StatusPending {
		return nil
	}
	delete(s.claims, rec.Binding)
	rec.Status = StatusIssued
	rec.ReservedAt = time.Time{}
	s.records[nonce] = rec
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, nonce string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[nonce]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
