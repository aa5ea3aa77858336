package cache

import (
	"context"
	"sync"

	"risk_engine/internal/core"
)

// MemoryTrailingStore is an in-process core.ITrailingConfigStore for
// single-node deployments and tests.
type MemoryTrailingStore struct {
	mu      sync.RWMutex
	configs map[string]core.TrailingConfig
}

// NewMemoryTrailingStore creates an empty in-memory store
func NewMemoryTrailingStore() *MemoryTrailingStore {
	return &MemoryTrailingStore{
		configs: make(map[string]core.TrailingConfig),
	}
}

// Get resolves the trailing config for a position; (nil, nil) when absent
func (s *MemoryTrailingStore) Get(_ context.Context, positionID string) (*core.TrailingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[positionID]
	if !ok {
		return nil, nil
	}
	c := cfg
	return &c, nil
}

// Set stores the trailing config for a position
func (s *MemoryTrailingStore) Set(_ context.Context, positionID string, cfg core.TrailingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[positionID] = cfg
	return nil
}

// Remove discards the config once the position is closed
func (s *MemoryTrailingStore) Remove(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, positionID)
	return nil
}

// Len returns the number of stored configs
func (s *MemoryTrailingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}
