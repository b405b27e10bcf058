// Package checkpoint implements CheckpointManager: per-task phase progress,
// resume-skip logic, and the artifact-validator re-query guard (spec.md
// §4.7).
package checkpoint

import (
	"context"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// ArtifactValidator re-confirms that a checkpointed phase's external output
// still exists before resume is allowed to skip it. Supplied by the handler
// at the call site of both Save and ShouldSkip for the same phase, since the
// validator closes over the handler's own collaborators (blob store,
// catalog) which CheckpointManager has no knowledge of.
type ArtifactValidator func(ctx context.Context, payload domain.Params) bool

// Store is the subset of store.Store the checkpoint manager needs.
type Store interface {
	UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error
	GetCheckpoint(ctx context.Context, taskID string) (phase int, payload domain.Params, err error)
}

// Manager implements the checkpoint operations of the long-running worker
// context (spec.md §4.7).
type Manager struct {
	store Store
}

func New(store Store) *Manager {
	return &Manager{store: store}
}

// Save atomically updates the task's checkpoint row. Phase monotonicity is
// enforced by the underlying Store (spec.md invariant 6).
func (m *Manager) Save(ctx context.Context, taskID string, phase int, payload domain.Params) error {
	return m.store.UpdateTaskCheckpoint(ctx, taskID, phase, payload)
}

// ShouldSkip returns true iff checkpoint_phase >= phaseIndex and, when a
// validator is supplied, it confirms the phase's artifact still exists.
func (m *Manager) ShouldSkip(ctx context.Context, taskID string, phaseIndex int, validator ArtifactValidator) (bool, error) {
	currentPhase, payload, err := m.store.GetCheckpoint(ctx, taskID)
	if err != nil {
		return false, err
	}
	if currentPhase < phaseIndex {
		return false, nil
	}
	if validator == nil {
		return true, nil
	}
	return validator(ctx, payload), nil
}

// GetData reads a key from the last-saved checkpoint payload, or returns def
// if absent.
func (m *Manager) GetData(ctx context.Context, taskID, key string, def any) (any, error) {
	_, payload, err := m.store.GetCheckpoint(ctx, taskID)
	if err != nil {
		return def, err
	}
	if payload == nil {
		return def, nil
	}
	if v, ok := payload[key]; ok {
		return v, nil
	}
	return def, nil
}
