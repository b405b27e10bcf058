package domain

import "context"

// StageDefinition is one immutable stage of a WorkflowDefinition.
type StageDefinition struct {
	Number      int
	Name        string
	TaskType    string
	Parallelism Parallelism
}

// TaskFactory builds the task descriptors for a stage given the job's
// parameters and (for stage > 1) the previous stage's results.
type TaskFactory func(stage int, jobParams Params, previousResults []TaskResult) ([]TaskDescriptor, error)

// Finalize runs once after the last stage completes; it may summarize the
// job's final result_data. Optional.
type Finalize func(ctx context.Context, job *Job, lastStage []TaskResult) (map[string]any, error)

// Summarize folds one stage's task results into a handler-defined summary
// stored on StageResultSummary.Summary. Optional.
type Summarize func(stage int, results []TaskResult) map[string]any

// CriticalTaskType marks task types whose failure should fail the whole job
// rather than merely downgrade it to COMPLETED_WITH_ERRORS.
type CriticalTaskType func(taskType string) bool

// Validate normalizes and schema-checks a job's submitted parameters before
// a job_id is computed (spec.md §4.9). Optional; a workflow with no schema
// requirements may leave it nil.
type Validate func(params Params) (Params, error)

// WorkflowDefinition is the static, immutable-once-registered description of
// a job_type's ordered stages.
type WorkflowDefinition struct {
	JobType   string
	Stages    []StageDefinition
	Factory   map[int]TaskFactory
	Validate  Validate
	Finalize  Finalize
	Summarize Summarize
	Critical  CriticalTaskType
}

// StageByNumber looks up a stage definition by its 1-based number.
func (w *WorkflowDefinition) StageByNumber(n int) (StageDefinition, bool) {
	for _, s := range w.Stages {
		if s.Number == n {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// TotalStages returns len(Stages).
func (w *WorkflowDefinition) TotalStages() int { return len(w.Stages) }

// IsTaskCritical reports whether a failed task of this type should fail the
// whole job instead of merely downgrading it to COMPLETED_WITH_ERRORS.
func (w *WorkflowDefinition) IsTaskCritical(taskType string) bool {
	if w.Critical == nil {
		return false
	}
	return w.Critical(taskType)
}
