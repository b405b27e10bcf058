package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// WorkflowRegistry maps job_type to its immutable WorkflowDefinition.
// Populated at process start from internal/workflows, then frozen: lookups
// after Freeze never observe a write, so no lock is needed on the hot path.
type WorkflowRegistry struct {
	mu     sync.RWMutex
	byType map[string]*domain.WorkflowDefinition
	frozen bool
}

func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{byType: map[string]*domain.WorkflowDefinition{}}
}

// Register adds a workflow definition. Panics if called after Freeze or if
// job_type is already registered -- duplicate registration is a startup
// wiring defect, not a runtime condition to recover from.
func (r *WorkflowRegistry) Register(def *domain.WorkflowDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("registry: Register(%s) after Freeze", def.JobType))
	}
	if _, exists := r.byType[def.JobType]; exists {
		panic(fmt.Sprintf("registry: duplicate workflow registration for job_type %q", def.JobType))
	}
	sort.Slice(def.Stages, func(i, j int) bool { return def.Stages[i].Number < def.Stages[j].Number })
	r.byType[def.JobType] = def
}

// Freeze stops accepting further registrations.
func (r *WorkflowRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get looks up a workflow by job_type. Returns domain.ErrUnknownJobType on
// miss -- a deployment/config defect per spec.md §7, handled by the caller
// dead-lettering the message.
func (r *WorkflowRegistry) Get(jobType string) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byType[jobType]
	if !ok {
		return nil, fmt.Errorf("job_type %q: %w", jobType, domain.ErrUnknownJobType)
	}
	return def, nil
}
