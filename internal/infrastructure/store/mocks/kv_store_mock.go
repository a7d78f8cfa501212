package mocks

import (
	"context"
	"sync"
)

// MockKeyValueStore is an in-memory KeyValueStore that records calls and can
// be told to fail.
type MockKeyValueStore struct {
	mu     sync.Mutex
	values map[string]string

	SetCalls    []SetCall
	DeleteCalls []string

	GetErr    error
	SetErr    error
	DeleteErr error
}

// SetCall records parameters passed to Set
type SetCall struct {
	Key   string
	Value string
}

func NewMockKeyValueStore() *MockKeyValueStore {
	return &MockKeyValueStore{values: make(map[string]string)}
}

func (m *MockKeyValueStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MockKeyValueStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls = append(m.SetCalls, SetCall{Key: key, Value: value})
	if m.SetErr != nil {
		return m.SetErr
	}
	m.values[key] = value
	return nil
}

func (m *MockKeyValueStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, key)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.values, key)
	return nil
}

// Seed sets a value directly without recording a call.
func (m *MockKeyValueStore) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Value returns the stored value for assertions.
func (m *MockKeyValueStore) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}
