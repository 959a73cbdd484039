package state

import (
	"context"
	"sync"

	"github.com/leapstack-labs/leaplint/pkg/core"
)

// MemoryStore keeps custom rules in process memory.
// Load and Save failures can be injected for tests.
type MemoryStore struct {
	mu      sync.Mutex
	defs    []core.CustomRuleDefinition
	loadErr error
	saveErr error
	saves   int
}

// NewMemoryStore creates a store seeded with defs.
func NewMemoryStore(defs ...core.CustomRuleDefinition) *MemoryStore {
	return &MemoryStore{defs: cloneDefs(defs)}
}

// Load returns a copy of the stored list.
func (s *MemoryStore) Load(ctx context.Context) ([]core.CustomRuleDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError(OpLoad, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, persistenceError(OpLoad, s.loadErr)
	}
	return cloneDefs(s.defs), nil
}

// Save replaces the stored list.
func (s *MemoryStore) Save(ctx context.Context, defs []core.CustomRuleDefinition) error {
	if err := ctx.Err(); err != nil {
		return persistenceError(OpSave, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return persistenceError(OpSave, s.saveErr)
	}
	s.defs = cloneDefs(defs)
	s.saves++
	return nil
}

// FailLoad makes subsequent loads fail with err. A nil err clears it.
func (s *MemoryStore) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailSave makes subsequent saves fail with err. A nil err clears it.
func (s *MemoryStore) FailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
