package settings

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// MemoryStore keeps settings in process memory. It backs the memory
// deployment mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore seeds the store with overrides on top of Defaults.
func NewMemoryStore(overrides map[string]string) *MemoryStore {
	values := Defaults()
	for k, v := range overrides {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

// Policy implements Provider.
func (m *MemoryStore) Policy(_ context.Context) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Parse(m.values)
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values), nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return v, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
