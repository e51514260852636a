package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process document store for tests and single-node dev
// runs without a configured remote backend.
type Memory struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]json.RawMessage)}
}

// Get reads the document at path.
func (m *Memory) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[path]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

// Set replaces the document at path.
func (m *Memory) Set(_ context.Context, path string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = b
	return nil
}

// Append adds value under a generated key, converting legacy
// array-shaped documents to the mapping shape as it goes.
func (m *Memory) Append(_ context.Context, path string, value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, err := mappingShape(m.docs[path])
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	docs[key] = b
	merged, err := json.Marshal(docs)
	if err != nil {
		return "", err
	}
	m.docs[path] = merged
	return key, nil
}
