package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dharsanguruparan/HashDrop/internal/model"
)

// MemoryBackend keeps blobs in a map. It counts physical writes so tests can
// assert deduplication.
type MemoryBackend struct {
	mu     sync.RWMutex
	blobs  map[ID][]byte
	writes atomic.Int64
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[ID][]byte)}
}

// Exists implements Backend.
func (m *MemoryBackend) Exists(_ context.Context, id ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok, nil
}

// Write implements Backend. The payload is copied so later mutation of the
// caller's slice cannot change stored content.
func (m *MemoryBackend) Write(_ context.Context, id ID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = bytes.Clone(data)
	m.writes.Add(1)
	return nil
}

// Open implements Backend.
func (m *MemoryBackend) Open(_ context.Context, id ID) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, model.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Writes returns the number of physical writes performed.
func (m *MemoryBackend) Writes() int64 {
	return m.writes.Load()
}

// Len returns the number of distinct blobs stored.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
