// Package workflows holds the Go-literal WorkflowDefinitions registered at
// process start, grounded on the teacher's internal/jobs/pipeline packages
// (one package per job_type, wired into internal/jobs/runtime.Registry at
// startup).
package workflows

import (
	"context"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
)

// RegisterEcho adds the "echo" workflow (end-to-end scenario S1): one
// stage, one task, used as the minimal smoke-test workflow.
func RegisterEcho(reg *registry.WorkflowRegistry) {
	reg.Register(&domain.WorkflowDefinition{
		JobType: "echo",
		Stages: []domain.StageDefinition{
			{Number: 1, Name: "echo", TaskType: "echo", Parallelism: domain.Single},
		},
		Factory: map[int]domain.TaskFactory{
			1: func(_ int, jobParams domain.Params, _ []domain.TaskResult) ([]domain.TaskDescriptor, error) {
				return []domain.TaskDescriptor{{TaskType: "echo", Parameters: jobParams}}, nil
			},
		},
		Finalize: func(_ context.Context, _ *domain.Job, lastStage []domain.TaskResult) (map[string]any, error) {
			if len(lastStage) == 0 {
				return nil, nil
			}
			return lastStage[0].Result, nil
		},
	})
}
