package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// taskExecutor is the internal interface for type-erased task execution,
// allowing tasks with different payload types to share one registry.
type taskExecutor interface {
	Execute(ctx context.Context, payload json.RawMessage) error
}

// taskRegistry stores registered task executors by name.
type taskRegistry struct {
	executors map[string]taskExecutor
	mu        sync.RWMutex
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{executors: make(map[string]taskExecutor)}
}

func (r *taskRegistry) register(name string, executor taskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
}

func (r *taskRegistry) get(name string) (taskExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[name]
	return executor, ok
}

func (r *taskRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// taskWrapper adapts a typed task handler for type-erased storage. It
// deserializes the JSON payload and calls the typed handler.
type taskWrapper[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}] struct {
	task T
}

func (w *taskWrapper[P, T]) Execute(ctx context.Context, raw json.RawMessage) error {
	var payload P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errors.Join(ErrInvalidPayload, err)
		}
	}
	return w.task.Handle(ctx, payload)
}
