// Package agentstore holds the gateway's view of the external agent
// configuration store: a simple in-memory implementation for single-node and
// test use, and the caching decorator every deployment wraps around the real
// collaborator.
package agentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/davidbz/hestia/internal/domain"
)

// Memory is an in-memory agent configuration store.
type Memory struct {
	mu     sync.RWMutex
	agents map[string]domain.AgentConfig
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{agents: make(map[string]domain.AgentConfig)}
}

// NewMemoryFromJSON creates a store seeded from a JSON array of agent
// configs.
func NewMemoryFromJSON(payload []byte) (*Memory, error) {
	var configs []domain.AgentConfig
	if err := json.Unmarshal(payload, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse agent configs: %w", err)
	}

	store := NewMemory()
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("agent config without id")
		}
		store.Put(cfg)
	}
	return store, nil
}

// Put inserts or replaces an agent config.
func (m *Memory) Put(cfg domain.AgentConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[cfg.ID] = cfg
}

// Get implements domain.AgentConfigStore.
func (m *Memory) Get(_ context.Context, agentID string) (*domain.AgentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, exists := m.agents[agentID]
	if !exists {
		return nil, domain.ErrAgentNotFound
	}

	// Copy so callers cannot mutate the stored config.
	out := cfg
	return &out, nil
}
