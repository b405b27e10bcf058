package coremachine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/observability"
)

// advanceStage implements the stage completion path of spec.md §4.5: fold
// results into stage_results, then either emit the next stage's job-message
// or finalize the job.
func (cm *CoreMachine) advanceStage(ctx context.Context, job *domain.Job, def *domain.WorkflowDefinition, stage int, results []domain.TaskResult, correlationID string) error {
	ctx, span := cm.startSpan(ctx, "coremachine.advance_stage",
		attribute.String("job_id", job.JobID),
		attribute.Int("stage", stage),
	)
	defer span.End()

	succeeded, failed := 0, 0
	var failedCritical bool
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
			if def.IsTaskCritical(r.TaskType) {
				failedCritical = true
			}
		}
	}

	var summaryMap map[string]any
	if def.Summarize != nil {
		summaryMap = def.Summarize(stage, results)
	}

	summary := domain.StageResultSummary{
		Stage:     stage,
		Total:     len(results),
		Succeeded: succeeded,
		Failed:    failed,
		Summary:   summaryMap,
	}
	if err := cm.Store.SetStageResults(ctx, job.JobID, summary); err != nil {
		return err
	}

	if failedCritical {
		return cm.finalize(ctx, job, def, domain.JobFailed, results, fmt.Sprintf("stage %d: critical task type failed", stage))
	}

	if stage < def.TotalStages() {
		nextMsg := domain.JobMessage{
			JobID:         job.JobID,
			JobType:       job.JobType,
			Stage:         stage + 1,
			Parameters:    job.Parameters,
			CorrelationID: correlationID,
			TraceCarrier:  observability.InjectTraceCarrier(ctx),
		}
		body, err := json.Marshal(nextMsg)
		if err != nil {
			return err
		}
		return cm.Broker.Send(ctx, cm.Queues.Job, body)
	}

	status := domain.JobCompleted
	if failed > 0 {
		status = domain.JobCompletedWithErrors
	}
	return cm.finalize(ctx, job, def, status, results, "")
}

func (cm *CoreMachine) finalize(ctx context.Context, job *domain.Job, def *domain.WorkflowDefinition, status domain.JobStatus, lastStage []domain.TaskResult, errorDetails string) error {
	var resultData map[string]any
	if def.Finalize != nil {
		data, err := def.Finalize(ctx, job, lastStage)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", job.JobType, err)
		}
		resultData = data
	}
	return cm.Store.FinalizeJob(ctx, job.JobID, status, resultData, errorDetails)
}
