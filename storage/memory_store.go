package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is an in-process KV used by tests and one-off sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	// puts counts successful writes per key.
	puts map[string]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
		puts:    make(map[string]int),
	}
}

// Get implements KV.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := checkKey("read", key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, &StorageError{Op: "read", Entity: "key", ID: key, Err: ErrNotFound}
	}
	return bytes.Clone(v), nil
}

// Put implements KV.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	if err := checkKey("write", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = bytes.Clone(value)
	m.puts[key]++
	return nil
}

// Puts reports how many times key has been written.
func (m *MemoryStore) Puts(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[key]
}

// Close implements KV.
func (m *MemoryStore) Close() error { return nil }
