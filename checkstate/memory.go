package checkstate

import (
	"context"
	"sync"
)

// Memory is an in-process Repository. States do not survive a restart.
type Memory struct {
	mu     sync.RWMutex
	states map[string]State
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{states: make(map[string]State)}
}

func (m *Memory) Get(_ context.Context, installID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.states[installID]), nil
}

func (m *Memory) Put(_ context.Context, installID string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[installID] = clone(s)
	return nil
}

func (m *Memory) Delete(_ context.Context, installID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, installID)
	return nil
}

// Len reports how many installs have a stored state.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// clone copies the result so callers cannot mutate what is stored.
func clone(s State) State {
	if s.CachedResult == nil {
		return s
	}
	r := *s.CachedResult
	if r.Link != nil {
		d := *r.Link
		r.Link = &d
	}
	s.CachedResult = &r
	return s
}
