package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// Handler is implemented by every task handler. Handlers must be
// idempotent: a second invocation with the same task_id and checkpoint
// state must converge to the same terminal outcome (spec.md §4.3).
type Handler interface {
	Type() string
	Run(ctx context.Context, taskCtx any, params domain.Params) (domain.HandlerResult, error)
}

// HandlerRegistry maps task_type to its Handler, grounded on the teacher's
// internal/jobs/runtime/registry.go (RWMutex-guarded map, fatal on
// duplicate registration).
type HandlerRegistry struct {
	mu       sync.RWMutex
	byType   map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{byType: map[string]Handler{}}
}

// Register adds a handler. Panics on duplicate task_type: this is caught at
// process start, not a runtime condition.
func (r *HandlerRegistry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[h.Type()]; exists {
		panic(fmt.Sprintf("registry: duplicate handler registration for task_type %q", h.Type()))
	}
	r.byType[h.Type()] = h
}

// Get looks up a handler by task_type. Returns domain.ErrUnknownTaskType on
// miss.
func (r *HandlerRegistry) Get(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byType[taskType]
	if !ok {
		return nil, fmt.Errorf("task_type %q: %w", taskType, domain.ErrUnknownTaskType)
	}
	return h, nil
}
