package coremachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/observability"
	"github.com/rob634/rmhgeoapi-sub015/internal/router"
)

// ProcessJobMessage is the stage-dispatch entry point (spec.md §4.5
// process_job_message). The caller decides the message's disposition from
// the returned error: jobloop dead-letters ErrContractViolation and
// ErrUnknownJobType (matched with errors.Is), and abandons any other
// error for redelivery.
func (cm *CoreMachine) ProcessJobMessage(ctx context.Context, msg domain.JobMessage) error {
	ctx = observability.ExtractTraceCarrier(ctx, msg.TraceCarrier)
	ctx, span := cm.startSpan(ctx, "coremachine.process_job_message",
		attribute.String("job_id", msg.JobID),
		attribute.String("job_type", msg.JobType),
		attribute.Int("stage", msg.Stage),
	)
	defer span.End()

	def, err := cm.Workflows.Get(msg.JobType)
	if err != nil {
		return err
	}

	job, err := cm.Store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("job %s referenced by job-message does not exist: %w", msg.JobID, domain.ErrContractViolation)
		}
		return err
	}

	if err := cm.Store.UpdateJobStatus(ctx, msg.JobID, domain.JobProcessing); err != nil {
		return err
	}
	if err := cm.Store.UpdateJobStage(ctx, msg.JobID, msg.Stage); err != nil {
		return err
	}
	job.Stage = msg.Stage

	stageDef, ok := def.StageByNumber(msg.Stage)
	if !ok {
		return fmt.Errorf("job_type %s has no stage %d: %w", msg.JobType, msg.Stage, domain.ErrContractViolation)
	}
	factory, ok := def.Factory[msg.Stage]
	if !ok {
		return fmt.Errorf("job_type %s stage %d has no task factory: %w", msg.JobType, msg.Stage, domain.ErrContractViolation)
	}

	var previousResults []domain.TaskResult
	if msg.Stage > 1 {
		previousResults, err = cm.Store.GetCompletedTasksForStage(ctx, msg.JobID, msg.Stage-1)
		if err != nil {
			return err
		}
	}

	descriptors, err := factory(msg.Stage, job.Parameters, previousResults)
	if err != nil {
		return fmt.Errorf("task factory for %s stage %d: %w", msg.JobType, msg.Stage, err)
	}

	if stageDef.Parallelism == domain.FanIn && len(descriptors) == 1 {
		if descriptors[0].Parameters == nil {
			descriptors[0].Parameters = domain.Params{}
		}
		descriptors[0].Parameters["_previous_results"] = previousResults
	}

	if len(descriptors) == 0 {
		return cm.advanceStage(ctx, job, def, msg.Stage, nil, msg.CorrelationID)
	}

	return cm.dispatchStage(ctx, job, msg.Stage, descriptors, msg.CorrelationID)
}

// dispatchStage upserts and routes each task descriptor of a stage
// concurrently via a bounded errgroup pool (spec.md §5 domain-stack
// addendum: parallelize dispatch I/O without breaking the per-stage
// ordering guarantee -- stage N+1 still only dispatches after stage N's
// atomic completion check).
func (cm *CoreMachine) dispatchStage(ctx context.Context, job *domain.Job, stage int, descriptors []domain.TaskDescriptor, correlationID string) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := cm.FanOutConcurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)

	for idx, desc := range descriptors {
		idx, desc := idx, desc
		g.Go(func() error {
			return cm.dispatchTask(gctx, job, stage, idx, desc, correlationID)
		})
	}
	return g.Wait()
}

func (cm *CoreMachine) dispatchTask(ctx context.Context, job *domain.Job, stage, taskIndex int, desc domain.TaskDescriptor, correlationID string) error {
	taskID := domain.HashTaskID(job.JobID, stage, desc.TaskType, taskIndex)

	payload, err := json.Marshal(desc.Parameters)
	if err != nil {
		return err
	}
	sizeEstimate := int64(len(payload))

	queue := cm.Router.Route(router.TaskDescriptor{TaskType: desc.TaskType, PayloadSizeBytes: sizeEstimate}, job.Parameters)
	explicitMode, _ := job.Parameters["processing_mode"].(string)
	if override, ok := cm.Overrides.For(job.JobType, stage); ok && override.Queue != "" && explicitMode != "long" {
		queue = override.Queue
	}

	task := &domain.Task{
		TaskID:      taskID,
		ParentJobID: job.JobID,
		JobType:     job.JobType,
		TaskType:    desc.TaskType,
		Stage:       stage,
		TaskIndex:   taskIndex,
		Parameters:  desc.Parameters,
		Status:      domain.TaskPending,
		TargetQueue: queue,
	}
	if err := cm.Store.UpsertTask(ctx, task); err != nil {
		return err
	}

	taskMsg := domain.TaskMessage{
		TaskID:        taskID,
		ParentJobID:   job.JobID,
		JobType:       job.JobType,
		TaskType:      desc.TaskType,
		Stage:         stage,
		TaskIndex:     taskIndex,
		Parameters:    desc.Parameters,
		CorrelationID: correlationID,
		TraceCarrier:  observability.InjectTraceCarrier(ctx),
	}
	body, err := json.Marshal(taskMsg)
	if err != nil {
		return err
	}
	return cm.Broker.Send(ctx, queue, body)
}
