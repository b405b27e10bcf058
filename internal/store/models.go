package store

import (
	"time"

	"gorm.io/datatypes"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// jobRecord is the GORM model backing the jobs table, grounded on the
// teacher's internal/domain/jobs/job_run.go shape (opaque datatypes.JSON
// columns, explicit TableName).
type jobRecord struct {
	JobID        string         `gorm:"column:job_id;primaryKey"`
	JobType      string         `gorm:"column:job_type;index"`
	Parameters   datatypes.JSON `gorm:"column:parameters"`
	Status       string         `gorm:"column:status;index"`
	Stage        int            `gorm:"column:stage"`
	TotalStages  int            `gorm:"column:total_stages"`
	StageResults datatypes.JSON `gorm:"column:stage_results"`
	ResultData   datatypes.JSON `gorm:"column:result_data"`
	ErrorDetails string         `gorm:"column:error_details"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (jobRecord) TableName() string { return "jobs" }

// taskRecord is the GORM model backing the tasks table.
type taskRecord struct {
	TaskID              string         `gorm:"column:task_id;primaryKey"`
	ParentJobID         string         `gorm:"column:parent_job_id;index:idx_tasks_job_stage"`
	JobType             string         `gorm:"column:job_type"`
	TaskType            string         `gorm:"column:task_type"`
	Stage               int            `gorm:"column:stage;index:idx_tasks_job_stage"`
	TaskIndex           int            `gorm:"column:task_index"`
	Parameters          datatypes.JSON `gorm:"column:parameters"`
	Status              string         `gorm:"column:status;index"`
	RetryCount          int            `gorm:"column:retry_count"`
	ResultData          datatypes.JSON `gorm:"column:result_data"`
	ErrorDetails        string         `gorm:"column:error_details"`
	CheckpointPhase     int            `gorm:"column:checkpoint_phase"`
	CheckpointData      datatypes.JSON `gorm:"column:checkpoint_data"`
	CheckpointUpdatedAt *time.Time     `gorm:"column:checkpoint_updated_at"`
	ExecutionStartedAt  *time.Time     `gorm:"column:execution_started_at"`
	TargetQueue         string         `gorm:"column:target_queue"`
	ExecutedByApp       string         `gorm:"column:executed_by_app"`
	CreatedAt           time.Time      `gorm:"column:created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at"`
}

func (taskRecord) TableName() string { return "tasks" }

func toJobRecord(j *domain.Job) (*jobRecord, error) {
	params, err := marshalJSON(j.Parameters)
	if err != nil {
		return nil, err
	}
	stageResults, err := marshalJSON(j.StageResults)
	if err != nil {
		return nil, err
	}
	resultData, err := marshalJSON(j.ResultData)
	if err != nil {
		return nil, err
	}
	return &jobRecord{
		JobID:        j.JobID,
		JobType:      j.JobType,
		Parameters:   params,
		Status:       string(j.Status),
		Stage:        j.Stage,
		TotalStages:  j.TotalStages,
		StageResults: stageResults,
		ResultData:   resultData,
		ErrorDetails: j.ErrorDetails,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}, nil
}

func fromJobRecord(r *jobRecord) (*domain.Job, error) {
	var params domain.Params
	if err := unmarshalJSON(r.Parameters, &params); err != nil {
		return nil, err
	}
	var stageResults map[int]domain.StageResultSummary
	if err := unmarshalJSON(r.StageResults, &stageResults); err != nil {
		return nil, err
	}
	var resultData map[string]any
	if err := unmarshalJSON(r.ResultData, &resultData); err != nil {
		return nil, err
	}
	return &domain.Job{
		JobID:        r.JobID,
		JobType:      r.JobType,
		Parameters:   params,
		Status:       domain.JobStatus(r.Status),
		Stage:        r.Stage,
		TotalStages:  r.TotalStages,
		StageResults: stageResults,
		ResultData:   resultData,
		ErrorDetails: r.ErrorDetails,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func toTaskRecord(t *domain.Task) (*taskRecord, error) {
	params, err := marshalJSON(t.Parameters)
	if err != nil {
		return nil, err
	}
	resultData, err := marshalJSON(t.ResultData)
	if err != nil {
		return nil, err
	}
	checkpointData, err := marshalJSON(t.CheckpointData)
	if err != nil {
		return nil, err
	}
	return &taskRecord{
		TaskID:              t.TaskID,
		ParentJobID:         t.ParentJobID,
		JobType:             t.JobType,
		TaskType:            t.TaskType,
		Stage:               t.Stage,
		TaskIndex:           t.TaskIndex,
		Parameters:          params,
		Status:              string(t.Status),
		RetryCount:          t.RetryCount,
		ResultData:          resultData,
		ErrorDetails:        t.ErrorDetails,
		CheckpointPhase:     t.CheckpointPhase,
		CheckpointData:      checkpointData,
		CheckpointUpdatedAt: t.CheckpointUpdatedAt,
		ExecutionStartedAt:  t.ExecutionStartedAt,
		TargetQueue:         t.TargetQueue,
		ExecutedByApp:       t.ExecutedByApp,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}, nil
}

func fromTaskRecord(r *taskRecord) (*domain.Task, error) {
	var params domain.Params
	if err := unmarshalJSON(r.Parameters, &params); err != nil {
		return nil, err
	}
	var resultData domain.Params
	if err := unmarshalJSON(r.ResultData, &resultData); err != nil {
		return nil, err
	}
	var checkpointData domain.Params
	if err := unmarshalJSON(r.CheckpointData, &checkpointData); err != nil {
		return nil, err
	}
	return &domain.Task{
		TaskID:              r.TaskID,
		ParentJobID:         r.ParentJobID,
		JobType:             r.JobType,
		TaskType:            r.TaskType,
		Stage:               r.Stage,
		TaskIndex:           r.TaskIndex,
		Parameters:          params,
		Status:              domain.TaskStatus(r.Status),
		RetryCount:          r.RetryCount,
		ResultData:          resultData,
		ErrorDetails:        r.ErrorDetails,
		CheckpointPhase:     r.CheckpointPhase,
		CheckpointData:      checkpointData,
		CheckpointUpdatedAt: r.CheckpointUpdatedAt,
		ExecutionStartedAt:  r.ExecutionStartedAt,
		TargetQueue:         r.TargetQueue,
		ExecutedByApp:       r.ExecutedByApp,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}
