// Package store implements the durable StateStore: Job/Task persistence and
// the advisory-lock-protected last-task-turns-out-the-lights completion
// check (spec.md §4.1). Two connection-discipline implementations satisfy
// the same Store interface: ShortLived (internal/store/shortlived.go) for
// serverless/short workers and Pooled (internal/store/pooled.go) for
// long-running workers.
package store

import (
	"context"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// Store is the durable StateStore contract, exactly spec.md §4.1.
type Store interface {
	// CreateJob inserts a new job row. Returns domain.ErrAlreadyExists if
	// job_id is already present; callers treat that as the idempotency
	// success path, not a failure.
	CreateJob(ctx context.Context, job *domain.Job) error

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// UpdateJobStatus validates the transition against the matrix in
	// spec.md §7 and returns domain.ErrInvalidTransition otherwise.
	UpdateJobStatus(ctx context.Context, jobID string, newStatus domain.JobStatus) error

	// UpdateJobStage sets job.stage; callers are responsible for only ever
	// moving it forward (invariant 3), this does not itself reject a
	// decrease since stage numbers are assigned by CoreMachine, not by an
	// external caller.
	UpdateJobStage(ctx context.Context, jobID string, newStage int) error

	// UpsertTask inserts a task row in PENDING, or is a no-op if task_id
	// already exists (idempotent dispatch, invariant 2).
	UpsertTask(ctx context.Context, task *domain.Task) error

	// UpdateTaskStatus validates the transition and sets
	// execution_started_at on the first transition into PROCESSING
	// (invariant 4).
	UpdateTaskStatus(ctx context.Context, taskID string, newStatus domain.TaskStatus) error

	UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error
	GetCheckpoint(ctx context.Context, taskID string) (phase int, payload domain.Params, err error)

	GetCompletedTasksForStage(ctx context.Context, jobID string, stage int) ([]domain.TaskResult, error)

	// CompleteTaskAndCheckStage is the critical atomic primitive: it
	// acquires an advisory lock on (job_id, stage), writes the task's
	// final status and result, counts the stage's tasks by status, and
	// reports stage_complete=true to exactly one caller per stage.
	CompleteTaskAndCheckStage(ctx context.Context, taskID, jobID string, stage int, status domain.TaskStatus, result domain.Params, errDetails string) (domain.CompletionOutcome, error)

	SetStageResults(ctx context.Context, jobID string, summary domain.StageResultSummary) error

	// FinalizeJob sets result_data/error_details and transitions the job
	// to a terminal status in one call.
	FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus, resultData map[string]any, errorDetails string) error

	Close() error
}

// validJobTransitions is the matrix from spec.md §7.
var validJobTransitions = map[domain.JobStatus]map[domain.JobStatus]bool{
	domain.JobQueued: {
		domain.JobProcessing: true,
	},
	domain.JobProcessing: {
		domain.JobProcessing:          true, // idempotent re-entry
		domain.JobCompleted:           true,
		domain.JobCompletedWithErrors: true,
		domain.JobFailed:              true,
	},
}

// ValidJobTransition reports whether from->to is permitted.
func ValidJobTransition(from, to domain.JobStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return validJobTransitions[from][to]
}

// validTaskTransitions is the matrix from spec.md §7.
var validTaskTransitions = map[domain.TaskStatus]map[domain.TaskStatus]bool{
	domain.TaskPending: {
		domain.TaskProcessing: true,
	},
	domain.TaskProcessing: {
		domain.TaskProcessing: true, // redelivery no-op
		domain.TaskCompleted:  true,
		domain.TaskFailed:     true,
	},
}

// ValidTaskTransition reports whether from->to is permitted.
func ValidTaskTransition(from, to domain.TaskStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return validTaskTransitions[from][to]
}
