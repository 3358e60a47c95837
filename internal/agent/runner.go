package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/finance-analyst/internal/logger"
)

// Runner runs conversation turns: it loads the thread's checkpoint, drives
// the graph and saves the final state. Turns of one thread are serialized;
// different threads run concurrently.
type Runner struct {
	graph *Graph
	store CheckpointStore
	locks threadLocks
}

// NewRunner creates a Runner.
func NewRunner(graph *Graph, store CheckpointStore) *Runner {
	return &Runner{graph: graph, store: store, locks: threadLocks{m: make(map[string]*threadLock)}}
}

// Stream runs one turn for threadID, calling emit with every snapshot. The
// last snapshot carries the answer.
func (r *Runner) Stream(ctx context.Context, threadID, message string, emit EmitFunc) (State, error) {
	if strings.TrimSpace(threadID) == "" {
		return State{}, fmt.Errorf("Runner.Stream: thread id is required")
	}
	if strings.TrimSpace(message) == "" {
		return State{}, fmt.Errorf("Runner.Stream: message is required")
	}

	unlock := r.locks.lock(threadID)
	defer unlock()

	log := logger.FromContext(ctx).With().Str("thread_id", threadID).Logger()
	ctx = logger.WithContext(ctx, log)

	prior, ok, err := r.store.Get(ctx, threadID)
	if err != nil {
		return State{}, fmt.Errorf("Runner.Stream: loading checkpoint: %w", err)
	}
	if !ok {
		prior = State{ThreadID: threadID}
	}
	prior.ThreadID = threadID

	final, err := r.graph.Run(ctx, prior.Merge(newTurn(message)), emit)
	if err != nil {
		// Abandoned or runaway turns leave the previous checkpoint in place.
		return final, fmt.Errorf("Runner.Stream: %w", err)
	}

	if err := r.store.Put(ctx, threadID, final); err != nil {
		return final, fmt.Errorf("Runner.Stream: saving checkpoint: %w", err)
	}

	log.Info().
		Int("retries", final.Retries).
		Int("result_count", final.ResultCount).
		Msg("Runner.Stream: turn finished")
	return final, nil
}

// Invoke runs one turn and returns only the final state.
func (r *Runner) Invoke(ctx context.Context, threadID, message string) (State, error) {
	return r.Stream(ctx, threadID, message, nil)
}

// History returns the checkpointed state of a thread.
func (r *Runner) History(ctx context.Context, threadID string) (State, bool, error) {
	return r.store.Get(ctx, threadID)
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

type threadLocks struct {
	mu sync.Mutex
	m  map[string]*threadLock
}

// lock blocks until the thread is free and returns the release function.
// Entries are dropped once nobody holds or waits for them.
func (l *threadLocks) lock(threadID string) func() {
	l.mu.Lock()
	tl, ok := l.m[threadID]
	if !ok {
		tl = &threadLock{}
		l.m[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, threadID)
		}
		l.mu.Unlock()
	}
}
