package state

import "sync"

// MemoryStore keeps the trigger state in memory. It backs dry-run ticks and
// tests, where mutations must not reach the durable file.
type MemoryStore struct {
	mu sync.Mutex
	st TriggerState
}

// NewMemoryStore constructs an in-memory store seeded with the given state.
func NewMemoryStore(seed TriggerState) *MemoryStore {
	return &MemoryStore{st: seed}
}

// Load implements Store.
func (s *MemoryStore) Load() (TriggerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, nil
}

// Save implements Store.
func (s *MemoryStore) Save(st TriggerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
	return nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(counter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bump(&s.st.Statistics, counter)
}

// Reset implements Store.
func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = DefaultState()
	return nil
}

var _ Store = (*MemoryStore)(nil)
