package coremachine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/observability"
	"github.com/rob634/rmhgeoapi-sub015/internal/runtime"
)

// RunMode selects which task-context shape ProcessTaskMessage builds for the
// handler (spec.md §4.6 short vs §4.7 long).
type RunMode int

const (
	ModeShort RunMode = iota
	ModeLong
)

// TaskRunOptions carries the long-running-only collaborators; both fields
// are nil/ignored in ModeShort.
type TaskRunOptions struct {
	Shutdown *runtime.ShutdownSignal
	Progress runtime.ProgressReporter
}

// ProcessTaskMessage is the task-dispatch entry point (spec.md §4.5
// process_task_message). It returns the Disposition the caller's WorkerLoop
// must apply to the underlying broker message.
func (cm *CoreMachine) ProcessTaskMessage(ctx context.Context, msg domain.TaskMessage, mode RunMode, opts TaskRunOptions) (Disposition, error) {
	ctx = observability.ExtractTraceCarrier(ctx, msg.TraceCarrier)
	ctx, span := cm.startSpan(ctx, "coremachine.process_task_message",
		attribute.String("task_id", msg.TaskID),
		attribute.String("job_id", msg.ParentJobID),
		attribute.Int("stage", msg.Stage),
		attribute.String("task_type", msg.TaskType),
	)
	defer span.End()

	handler, err := cm.Handlers.Get(msg.TaskType)
	if err != nil {
		return DispositionDeadLetter, err
	}

	task, err := cm.Store.GetTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return DispositionDeadLetter, fmt.Errorf("task %s referenced by task-message does not exist: %w", msg.TaskID, domain.ErrContractViolation)
		}
		return DispositionAbandon, err
	}

	// Redelivery idempotence (testable property 8): a terminal task is a
	// no-op that acks the message without re-entering the handler.
	if task.Status.IsTerminal() {
		if cm.Log != nil {
			cm.Log.Info("redelivery of terminal task, acking as no-op", "task_id", msg.TaskID, "status", string(task.Status))
		}
		return DispositionComplete, nil
	}

	if err := cm.Store.UpdateTaskStatus(ctx, msg.TaskID, domain.TaskProcessing); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return DispositionDeadLetter, err
		}
		return DispositionAbandon, err
	}

	taskCtx := cm.buildTaskContext(ctx, msg, mode, opts)

	result, err := handler.Run(ctx, taskCtx, msg.Parameters)
	if err != nil {
		return DispositionAbandon, fmt.Errorf("handler %s: %w", msg.TaskType, err)
	}

	switch {
	case result.Success && result.Interrupted:
		// Never complete: the task row stays PROCESSING with its
		// checkpoint intact so another delivery resumes it.
		return DispositionAbandon, nil

	case result.Success:
		return cm.completeTask(ctx, msg, domain.TaskCompleted, result.Result, "")

	case result.Retryable:
		return DispositionAbandon, nil

	default:
		errDetails := result.Error
		if errDetails == "" {
			errDetails = "handler reported failure"
		}
		return cm.completeTask(ctx, msg, domain.TaskFailed, result.Result, errDetails)
	}
}

func (cm *CoreMachine) buildTaskContext(ctx context.Context, msg domain.TaskMessage, mode RunMode, opts TaskRunOptions) any {
	if mode == ModeLong {
		return runtime.NewLongContext(ctx, msg.TaskID, msg.ParentJobID, msg.Parameters, cm.Checkpoint, opts.Shutdown, opts.Progress, cm.Log)
	}
	return runtime.NewShortContext(ctx, msg.TaskID, msg.ParentJobID, msg.Parameters)
}

// completeTask runs the atomic completion check and, if this call is the
// one that completed the stage, advances it. It always returns
// DispositionComplete on success since both COMPLETED and FAILED are
// terminal task outcomes the broker message must ack (spec.md §4.5 step 7).
func (cm *CoreMachine) completeTask(ctx context.Context, msg domain.TaskMessage, status domain.TaskStatus, result domain.Params, errDetails string) (Disposition, error) {
	outcome, err := cm.Store.CompleteTaskAndCheckStage(ctx, msg.TaskID, msg.ParentJobID, msg.Stage, status, result, errDetails)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return DispositionDeadLetter, err
		}
		return DispositionAbandon, err
	}
	if !outcome.StageComplete {
		return DispositionComplete, nil
	}

	job, err := cm.Store.GetJob(ctx, msg.ParentJobID)
	if err != nil {
		return DispositionAbandon, err
	}
	def, err := cm.Workflows.Get(msg.JobType)
	if err != nil {
		return DispositionDeadLetter, err
	}
	results, err := cm.Store.GetCompletedTasksForStage(ctx, msg.ParentJobID, msg.Stage)
	if err != nil {
		return DispositionAbandon, err
	}
	if err := cm.advanceStage(ctx, job, def, msg.Stage, results, msg.CorrelationID); err != nil {
		return DispositionAbandon, err
	}
	return DispositionComplete, nil
}

// FailTaskDeliveryExhausted marks a task FAILED via the atomic completion
// check when the broker reports its delivery count has exceeded the
// queue's max (spec.md §4.5 step 6 "delivery-count exhausted"). Called by
// the WorkerLoop before dispatching to the handler at all.
func (cm *CoreMachine) FailTaskDeliveryExhausted(ctx context.Context, msg domain.TaskMessage) (Disposition, error) {
	return cm.completeTask(ctx, msg, domain.TaskFailed, nil, "delivery count exhausted")
}
