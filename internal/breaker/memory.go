package breaker

import (
	"context"
	"sync"

	"github.com/davidbz/hestia/internal/domain"
)

// MemoryStore keeps circuit state in process memory. Suitable for
// single-instance deployments; versioning follows the same CAS contract as
// the shared store so the breaker logic is identical either way.
type MemoryStore struct {
	mu       sync.Mutex
	circuits map[domain.Provider]Circuit
}

// NewMemoryStore creates an in-memory circuit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		circuits: make(map[domain.Provider]Circuit),
	}
}

// Get implements Store. Unseen providers start Closed at version zero.
func (s *MemoryStore) Get(_ context.Context, provider domain.Provider) (Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.circuits[provider], nil
}

// CompareAndSet implements Store.
func (s *MemoryStore) CompareAndSet(_ context.Context, provider domain.Provider, expectedVersion int64, next Circuit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.circuits[provider]
	if current.Version != expectedVersion {
		return false, nil
	}

	next.Version = expectedVersion + 1
	s.circuits[provider] = next
	return true, nil
}
