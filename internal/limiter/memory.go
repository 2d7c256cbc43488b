package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryStore keeps one token bucket per caller key in process memory.
// Buckets refill continuously at capacity/window.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	capacity int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryStore creates an in-memory store admitting capacity calls per
// window.
func NewMemoryStore(capacity int, window time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &MemoryStore{
		buckets:  make(map[string]*bucket),
		limit:    rate.Limit(float64(capacity) / window.Seconds()),
		capacity: capacity,
	}
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.mu.Lock()
	b, exists := s.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.capacity)}
		s.buckets[key] = b
	}
	b.lastSeen = time.Now()
	s.mu.Unlock()

	reservation := b.limiter.Reserve()
	delay := reservation.Delay()
	if delay > 0 {
		// No queuing: give the token back and reject with the hint.
		reservation.Cancel()
		return false, delay, nil
	}

	return true, 0, nil
}

// Cleanup removes buckets idle for longer than maxIdle to bound memory.
func (s *MemoryStore) Cleanup(maxIdle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}
