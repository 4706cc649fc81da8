package kv

import (
	"context"
	"maps"
	"sync"
)

// Memory is an in-process Store.
//
// Use the *Err fields to inject failures for error-path tests; the zero value
// means no error. A failed write changes nothing.
type Memory struct {
	GetErr     error
	SetErr     error
	SetManyErr error
	RemoveErr  error

	mu     sync.Mutex
	values map[string]string
	writes int
}

// NewMemory returns a Memory seeded with values.
func NewMemory(values map[string]string) *Memory {
	m := &Memory{values: make(map[string]string, len(values))}
	maps.Copy(m.values, values)
	return m
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.values[key] = value
	m.writes++
	return nil
}

func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	if m.SetManyErr != nil {
		return m.SetManyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	maps.Copy(m.values, values)
	m.writes++
	return nil
}

func (m *Memory) Remove(_ context.Context, keys ...string) error {
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.writes++
	return nil
}

// Snapshot returns a copy of every stored value.
func (m *Memory) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values)
}

// Writes returns how many successful write calls have been made.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) init() {
	if m.values == nil {
		m.values = make(map[string]string)
	}
}
