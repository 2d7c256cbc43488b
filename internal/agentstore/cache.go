package agentstore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/davidbz/hestia/internal/domain"
)

// Cache is a read-through, time-bounded cache over an AgentConfigStore. The
// underlying store stays safe to call frequently: concurrent lookups for the
// same agent collapse into one call, and results (including not-found) are
// held for the TTL. Inactive configs are cached as-is; rejecting them is the
// orchestrator's job, so activation state is re-observed within one TTL.
type Cache struct {
	store domain.AgentConfigStore
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	cfg       *domain.AgentConfig
	err       error
	expiresAt time.Time
}

// NewCache wraps store with a TTL cache.
func NewCache(store domain.AgentConfigStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Cache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get implements domain.AgentConfigStore.
func (c *Cache) Get(ctx context.Context, agentID string) (*domain.AgentConfig, error) {
	c.mu.RLock()
	entry, exists := c.entries[agentID]
	c.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.cfg, entry.err
	}

	result, err, _ := c.group.Do(agentID, func() (any, error) {
		cfg, lookupErr := c.store.Get(ctx, agentID)

		c.mu.Lock()
		c.entries[agentID] = cacheEntry{
			cfg:       cfg,
			err:       lookupErr,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.mu.Unlock()

		return cfg, lookupErr
	})
	if err != nil {
		return nil, err
	}

	return result.(*domain.AgentConfig), nil
}
