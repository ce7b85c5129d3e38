package storage

import (
	"context"
	"sync"
)

// Memory is a process-local KV. FailSet, when non-nil, is returned by Set
// instead of writing.
type Memory struct {
	mu      sync.Mutex
	data    map[string]string
	FailSet error
}

func NewMemory() *Memory { return &Memory{data: map[string]string{}} }

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return m.FailSet
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Close() error { return nil }
