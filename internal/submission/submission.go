// Package submission implements JobSubmission (spec.md §4.9): validate,
// compute the deterministic job_id, and idempotently create the job row and
// enqueue its stage-1 job-message.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
	"github.com/rob634/rmhgeoapi-sub015/internal/observability"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
	"github.com/rob634/rmhgeoapi-sub015/internal/store"
)

// Status is the submit() response's status field (spec.md §6).
type Status string

const (
	StatusCreated          Status = "created"
	StatusAlreadyCompleted Status = "already_completed"
	StatusInProgress       Status = "in_progress"
)

// Result is submit()'s return value.
type Result struct {
	JobID      string
	Status     Status
	Idempotent bool
	ResultData map[string]any
}

// Service wires JobSubmission's collaborators. Concurrent identical
// submissions (same canonical parameters racing before the first commits
// its job row) are collapsed via singleflight, keyed by the deterministic
// job_id -- additive plumbing around the StateStore's own ErrAlreadyExists
// idempotency check, which remains the durable source of truth across
// process restarts.
type Service struct {
	Store     store.Store
	Broker    broker.Broker
	Workflows *registry.WorkflowRegistry
	JobQueue  string
	Log       *logger.Logger

	group singleflight.Group
}

func New(st store.Store, br broker.Broker, workflows *registry.WorkflowRegistry, jobQueue string, log *logger.Logger) *Service {
	return &Service{Store: st, Broker: br, Workflows: workflows, JobQueue: jobQueue, Log: log}
}

// Submit validates params, computes job_id, and either returns the existing
// job's status/result or creates the job and enqueues its stage-1
// job-message.
func (s *Service) Submit(ctx context.Context, jobType string, params domain.Params) (Result, error) {
	def, err := s.Workflows.Get(jobType)
	if err != nil {
		return Result{}, err
	}

	normalized := params
	if def.Validate != nil {
		normalized, err = def.Validate(params)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", err.Error(), domain.ErrValidationFailed)
		}
	}

	jobID, err := domain.HashJobID(jobType, normalized)
	if err != nil {
		return Result{}, err
	}

	v, err, _ := s.group.Do(jobID, func() (any, error) {
		return s.submitOnce(ctx, jobID, jobType, normalized, def)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Service) submitOnce(ctx context.Context, jobID, jobType string, params domain.Params, def *domain.WorkflowDefinition) (Result, error) {
	existing, err := s.Store.GetJob(ctx, jobID)
	if err == nil {
		return s.resultForExisting(existing), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	job := &domain.Job{
		JobID:       jobID,
		JobType:     jobType,
		Parameters:  params,
		Status:      domain.JobQueued,
		Stage:       1,
		TotalStages: def.TotalStages(),
	}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, getErr := s.Store.GetJob(ctx, jobID)
			if getErr != nil {
				return Result{}, getErr
			}
			return s.resultForExisting(existing), nil
		}
		return Result{}, err
	}

	msg := domain.JobMessage{JobID: jobID, JobType: jobType, Stage: 1, Parameters: params, TraceCarrier: observability.InjectTraceCarrier(ctx)}
	body, err := json.Marshal(msg)
	if err != nil {
		return Result{}, err
	}
	if err := s.Broker.Send(ctx, s.JobQueue, body); err != nil {
		return Result{}, err
	}

	if s.Log != nil {
		s.Log.Info("job submitted", "job_id", jobID, "job_type", jobType)
	}
	return Result{JobID: jobID, Status: StatusCreated, Idempotent: false}, nil
}

func (s *Service) resultForExisting(job *domain.Job) Result {
	if job.Status == domain.JobCompleted || job.Status == domain.JobCompletedWithErrors {
		return Result{JobID: job.JobID, Status: StatusAlreadyCompleted, Idempotent: true, ResultData: job.ResultData}
	}
	return Result{JobID: job.JobID, Status: StatusInProgress, Idempotent: true}
}

// Status looks up a job's current record for the status() endpoint (spec.md
// §6 "Job status (request)").
func (s *Service) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.Store.GetJob(ctx, jobID)
}
