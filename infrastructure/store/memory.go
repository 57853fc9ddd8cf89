// Package store provides BatchStore implementations: an in-memory
// store for tests and single-process deployments, and a Postgres store
// for production.
package store

import (
	"context"
	"sync"

	"github.com/priceflow/pam-engine/internal/domain"
)

// MemoryStore is an in-memory BatchStore. It upholds the same
// atomicity contract as the Postgres store: find-or-create runs under
// a single lock, so concurrent submissions of the same inputs observe
// one batch.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]*domain.CalcBatch
	// byKey indexes non-failed batches by tenant+pam+hash.
	byKey   map[string]string
	results map[string][]domain.CalcResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string]*domain.CalcBatch),
		byKey:   make(map[string]string),
		results: make(map[string][]domain.CalcResult),
	}
}

func batchKey(tenantID, pamID, hash string) string {
	return tenantID + "\x00" + pamID + "\x00" + hash
}

// FindOrCreateBatch implements ports.BatchStore.
func (s *MemoryStore) FindOrCreateBatch(ctx context.Context, batch *domain.CalcBatch) (*domain.CalcBatch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey(batch.TenantID, batch.PAMID, batch.InputsHash)
	if id, ok := s.byKey[key]; ok {
		if existing, ok := s.batches[id]; ok && existing.Status != domain.BatchFailed {
			found := *existing
			return &found, false, nil
		}
	}

	stored := *batch
	s.batches[batch.ID] = &stored
	s.byKey[key] = batch.ID
	created := *batch
	return &created, true, nil
}

// GetBatch implements ports.BatchStore.
func (s *MemoryStore) GetBatch(ctx context.Context, id string) (*domain.CalcBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	out := *batch
	return &out, nil
}

// UpdateBatch implements ports.BatchStore.
func (s *MemoryStore) UpdateBatch(ctx context.Context, batch *domain.CalcBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batch.ID]; !ok {
		return domain.ErrBatchNotFound
	}
	stored := *batch
	s.batches[batch.ID] = &stored

	// A failed batch releases its idempotency key so a fresh
	// submission can create a new batch for the same inputs.
	key := batchKey(batch.TenantID, batch.PAMID, batch.InputsHash)
	if batch.Status == domain.BatchFailed {
		if s.byKey[key] == batch.ID {
			delete(s.byKey, key)
		}
	} else {
		s.byKey[key] = batch.ID
	}
	return nil
}

// SaveResults implements ports.BatchStore.
func (s *MemoryStore) SaveResults(ctx context.Context, results []domain.CalcResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range results {
		s.results[r.BatchID] = append(s.results[r.BatchID], r)
	}
	return nil
}

// ListResults implements ports.BatchStore.
func (s *MemoryStore) ListResults(ctx context.Context, batchID string) ([]domain.CalcResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.CalcResult, len(s.results[batchID]))
	copy(results, s.results[batchID])
	return results, nil
}
