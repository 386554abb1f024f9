package statestore

import (
	"context"
	"sync"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/identity"
)

// Memory is an in-process Store.
type Memory struct {
	states map[identity.Key]contractruntime.State
	mu     sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[identity.Key]contractruntime.State)}
}

func (m *Memory) FetchState(_ context.Context, key identity.Key) (contractruntime.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key]
	if !ok {
		return nil, false, nil
	}
	return append(contractruntime.State{}, s...), true, nil
}

func (m *Memory) FetchRelated(_ context.Context, ids []identity.Key) (contractruntime.RelatedContracts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(contractruntime.RelatedContracts, len(ids))
	for _, id := range ids {
		if s, ok := m.states[id]; ok {
			out[id] = append(contractruntime.State{}, s...)
		} else {
			out[id] = nil
		}
	}
	return out, nil
}

func (m *Memory) PutState(_ context.Context, key identity.Key, state contractruntime.State) error {
	m.mu.Lock()
	m.states[key] = append(contractruntime.State{}, state...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteState(_ context.Context, key identity.Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[key]
	delete(m.states, key)
	return ok, nil
}

func (m *Memory) Close() error { return nil }
