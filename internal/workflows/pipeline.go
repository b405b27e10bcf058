package workflows

import (
	"context"
	"fmt"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
)

// RegisterValidateProcessFinalize adds the sample 3-stage
// "validate-then-process-then-finalize" workflow exercising fan_out and
// fan_in (end-to-end scenarios S2, S3, S4):
//
//  1. validate_items (single)  -- reports the submitted item count.
//  2. process_item   (fan_out) -- one task per item in the job parameters.
//  3. finalize_results (fan_in) -- one task over stage 2's aggregated results.
func RegisterValidateProcessFinalize(reg *registry.WorkflowRegistry) {
	reg.Register(&domain.WorkflowDefinition{
		JobType: "validate-then-process-then-finalize",
		Stages: []domain.StageDefinition{
			{Number: 1, Name: "validate", TaskType: "validate_items", Parallelism: domain.Single},
			{Number: 2, Name: "process", TaskType: "process_item", Parallelism: domain.FanOut},
			{Number: 3, Name: "finalize", TaskType: "finalize_results", Parallelism: domain.FanIn},
		},
		Factory: map[int]domain.TaskFactory{
			1: func(_ int, jobParams domain.Params, _ []domain.TaskResult) ([]domain.TaskDescriptor, error) {
				return []domain.TaskDescriptor{{TaskType: "validate_items", Parameters: jobParams}}, nil
			},
			2: func(_ int, jobParams domain.Params, _ []domain.TaskResult) ([]domain.TaskDescriptor, error) {
				items, _ := jobParams["items"].([]any)
				descriptors := make([]domain.TaskDescriptor, 0, len(items))
				for _, item := range items {
					descriptors = append(descriptors, domain.TaskDescriptor{
						TaskType:   "process_item",
						Parameters: domain.Params{"item": item},
					})
				}
				return descriptors, nil
			},
			3: func(_ int, _ domain.Params, previousResults []domain.TaskResult) ([]domain.TaskDescriptor, error) {
				return []domain.TaskDescriptor{{TaskType: "finalize_results", Parameters: domain.Params{}}}, nil
			},
		},
		Summarize: func(stage int, results []domain.TaskResult) map[string]any {
			succeeded, failed := 0, 0
			for _, r := range results {
				if r.Success {
					succeeded++
				} else {
					failed++
				}
			}
			return map[string]any{"stage": stage, "succeeded": succeeded, "failed": failed}
		},
		Finalize: func(_ context.Context, _ *domain.Job, lastStage []domain.TaskResult) (map[string]any, error) {
			if len(lastStage) == 0 {
				return nil, fmt.Errorf("validate-then-process-then-finalize: no stage-3 result")
			}
			return lastStage[0].Result, nil
		},
	})
}
