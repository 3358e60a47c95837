// Package memory is the in-process checkpoint store for agent conversations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-analyst/internal/agent"
)

// Store keeps checkpoints in a map. It is safe for concurrent use; data is
// lost on restart.
type Store struct {
	mu      sync.RWMutex
	threads map[string]agent.State
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{threads: make(map[string]agent.State)}
}

// Put implements agent.CheckpointStore.
func (s *Store) Put(ctx context.Context, threadID string, st agent.State) error {
	if threadID == "" {
		return fmt.Errorf("thread ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external modifications
	s.threads[threadID] = st.Clone()
	return nil
}

// Get implements agent.CheckpointStore.
func (s *Store) Get(ctx context.Context, threadID string) (agent.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.threads[threadID]
	if !ok {
		return agent.State{}, false, nil
	}
	return st.Clone(), true, nil
}

// Delete drops a thread's checkpoint.
func (s *Store) Delete(ctx context.Context, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
}

// Len returns the number of stored threads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Ensure Store implements agent.CheckpointStore.
var _ agent.CheckpointStore = (*Store)(nil)
