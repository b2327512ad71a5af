// Package cache keeps resolved metadata so repeated downloads of the same
// identifier skip the resolver.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a stored value with the time it was written.
type Entry struct {
	Data     []byte
	StoredAt time.Time
}

// Store is a key/value store for cache entries.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	e.Data = append([]byte(nil), e.Data...)
	return &e, true, nil
}

func (m *Memory) Put(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Data = append([]byte(nil), e.Data...)
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Close() error { return nil }
