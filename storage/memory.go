package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Blob used in tests and local development.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailWith, when set, makes every operation return it wrapped in a
	// storage Error. Lets tests exercise persistence-failure paths.
	FailWith error
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, key string) ([]byte, error) {
	if m.FailWith != nil {
		return nil, &Error{Op: "load", Err: m.FailWith}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Save(ctx context.Context, key string, data []byte) error {
	if m.FailWith != nil {
		return &Error{Op: "save", Err: m.FailWith}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if m.FailWith != nil {
		return &Error{Op: "delete", Err: m.FailWith}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)
	return nil
}
