package secrets

import (
	"context"
	"sort"
	"sync"

	"github.com/wippyai/contract-runtime/identity"
)

// Memory is an in-process Store.
type Memory struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, ns identity.Key, name []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(storageKey(ns, name))]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(_ context.Context, ns identity.Key, name, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(storageKey(ns, name))] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, ns identity.Key, name []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(storageKey(ns, name))
	_, ok := m.data[k]
	delete(m.data, k)
	return ok, nil
}

func (m *Memory) Names(_ context.Context, ns identity.Key) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := string(ns[:])
	var names []string
	for k := range m.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			names = append(names, k[len(prefix):])
		}
	}
	sort.Strings(names)
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
