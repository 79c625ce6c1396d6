package server

import (
	"context"
	"sync"
	"time"
)

// Execution is an in-flight execution the server can cancel.
type Execution struct {
	ID        string
	Language  string
	StartedAt time.Time
	cancel    context.CancelFunc
}

// ExecutionTracker tracks in-flight executions so that they can be cancelled
// individually or all at once on shutdown.
type ExecutionTracker struct {
	mu         sync.RWMutex
	executions map[string]*Execution
}

// NewExecutionTracker creates an empty tracker.
func NewExecutionTracker() *ExecutionTracker {
	return &ExecutionTracker{
		executions: make(map[string]*Execution),
	}
}

// Start registers an execution and returns its context, which is cancelled by
// Remove, CloseAll or the parent. An execution already registered under id is
// cancelled and replaced. done must be called when the execution ends.
func (t *ExecutionTracker) Start(parent context.Context, id, language string) (ctx context.Context, done func()) {
	ctx, done, _ = t.track(parent, id, language, true)
	return ctx, done
}

// Reserve is Start for ids that must be unique: it registers nothing and
// reports false when id is already in flight.
func (t *ExecutionTracker) Reserve(parent context.Context, id, language string) (ctx context.Context, done func(), ok bool) {
	return t.track(parent, id, language, false)
}

func (t *ExecutionTracker) track(parent context.Context, id, language string, replace bool) (context.Context, func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.executions[id]; ok {
		if !replace {
			return nil, nil, false
		}
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	e := &Execution{ID: id, Language: language, StartedAt: time.Now(), cancel: cancel}
	t.executions[id] = e

	return ctx, func() {
		cancel()
		t.mu.Lock()
		if t.executions[id] == e {
			delete(t.executions, id)
		}
		t.mu.Unlock()
	}, true
}

// Get returns an in-flight execution if it exists.
func (t *ExecutionTracker) Get(id string) (*Execution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.executions[id]
	return e, ok
}

// Len returns the number of in-flight executions.
func (t *ExecutionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.executions)
}

// Remove cancels an execution and forgets it. It reports whether the
// execution was in flight.
func (t *ExecutionTracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.executions[id]
	if ok {
		e.cancel()
		delete(t.executions, id)
	}
	return ok
}

// CloseAll cancels every in-flight execution.
func (t *ExecutionTracker) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.executions {
		e.cancel()
		delete(t.executions, id)
	}
}
