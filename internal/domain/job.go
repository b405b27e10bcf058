// Package domain defines the core job/task/workflow types shared by every
// CoreMachine package. Nothing here performs I/O.
package domain

import "time"

// JobStatus is the lifecycle status of a Job.
type JobStatus string

const (
	JobQueued               JobStatus = "QUEUED"
	JobProcessing            JobStatus = "PROCESSING"
	JobCompleted             JobStatus = "COMPLETED"
	JobFailed                JobStatus = "FAILED"
	JobCompletedWithErrors   JobStatus = "COMPLETED_WITH_ERRORS"
)

// IsTerminal reports whether status is a sink state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCompletedWithErrors:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether status is a sink state for a task.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Parallelism describes how a stage's task-definition factory fans out.
type Parallelism string

const (
	Single Parallelism = "single"
	FanOut Parallelism = "fan_out"
	FanIn  Parallelism = "fan_in"
)

// Params is the opaque, schema-free payload carried by jobs, tasks and
// messages. Workflows and handlers own the schema of what's inside.
type Params map[string]any

// StageResultSummary is the persisted aggregation for one completed stage.
type StageResultSummary struct {
	Stage     int            `json:"stage"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Summary   map[string]any `json:"summary,omitempty"`
}

// Job is one submission instance, durably owned by the StateStore.
type Job struct {
	JobID        string                      `json:"job_id"`
	JobType      string                      `json:"job_type"`
	Parameters   Params                      `json:"parameters"`
	Status       JobStatus                   `json:"status"`
	Stage        int                         `json:"stage"`
	TotalStages  int                         `json:"total_stages"`
	StageResults map[int]StageResultSummary  `json:"stage_results"`
	ResultData   map[string]any              `json:"result_data,omitempty"`
	ErrorDetails string                      `json:"error_details,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// Task is one unit of work dispatched within a stage.
type Task struct {
	TaskID              string     `json:"task_id"`
	ParentJobID         string     `json:"parent_job_id"`
	JobType             string     `json:"job_type"`
	TaskType            string     `json:"task_type"`
	Stage               int        `json:"stage"`
	TaskIndex           int        `json:"task_index"`
	Parameters          Params     `json:"parameters"`
	Status              TaskStatus `json:"status"`
	RetryCount          int        `json:"retry_count"`
	ResultData          Params     `json:"result_data,omitempty"`
	ErrorDetails        string     `json:"error_details,omitempty"`
	CheckpointPhase     int        `json:"checkpoint_phase"`
	CheckpointData      Params     `json:"checkpoint_data,omitempty"`
	CheckpointUpdatedAt *time.Time `json:"checkpoint_updated_at,omitempty"`
	ExecutionStartedAt  *time.Time `json:"execution_started_at,omitempty"`
	TargetQueue         string     `json:"target_queue,omitempty"`
	ExecutedByApp       string     `json:"executed_by_app,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TaskResult is the value passed to a stage's task-definition factory (as
// previous_results) and folded into a StageResultSummary.
type TaskResult struct {
	TaskID    string     `json:"task_id"`
	TaskType  string     `json:"task_type"`
	TaskIndex int        `json:"task_index"`
	Status    TaskStatus `json:"status"`
	Success   bool       `json:"success"`
	Result    Params     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// CompletionOutcome is returned by StateStore.CompleteTaskAndCheckStage.
type CompletionOutcome struct {
	StageComplete bool
	Total         int
	Succeeded     int
	Failed        int
}

// TaskDescriptor is what a workflow's task-definition factory emits for one
// task of a stage; CoreMachine derives the deterministic task_id from
// (job_id, stage, task_type, task_index).
type TaskDescriptor struct {
	TaskType   string
	Parameters Params
}

// HandlerResult is the contract every task handler returns.
type HandlerResult struct {
	Success        bool
	Result         Params
	Error          string
	ErrorCode      string
	Retryable      bool
	Interrupted    bool
	PhaseCompleted int
	Resumable      bool
}

// JobMessage is the broker payload that drives process_job_message.
type JobMessage struct {
	JobID         string            `json:"job_id"`
	JobType       string            `json:"job_type"`
	Stage         int               `json:"stage"`
	Parameters    Params            `json:"parameters"`
	CorrelationID string            `json:"correlation_id"`
	TraceCarrier  map[string]string `json:"trace_carrier,omitempty"`
}

// TaskMessage is the broker payload that drives process_task_message.
type TaskMessage struct {
	TaskID        string            `json:"task_id"`
	ParentJobID   string            `json:"parent_job_id"`
	JobType       string            `json:"job_type"`
	TaskType      string            `json:"task_type"`
	Stage         int               `json:"stage"`
	TaskIndex     int               `json:"task_index"`
	Parameters    Params            `json:"parameters"`
	CorrelationID string            `json:"correlation_id"`
	TraceCarrier  map[string]string `json:"trace_carrier,omitempty"`
}
