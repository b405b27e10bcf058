package workflows_test

import (
	"context"
	"testing"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
	"github.com/rob634/rmhgeoapi-sub015/internal/workflows"
)

func registeredPipeline(t *testing.T) *domain.WorkflowDefinition {
	t.Helper()
	reg := registry.NewWorkflowRegistry()
	workflows.RegisterValidateProcessFinalize(reg)
	reg.Freeze()
	def, err := reg.Get("validate-then-process-then-finalize")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	return def
}

func TestPipelineStagesAreOrderedFanOutThenFanIn(t *testing.T) {
	def := registeredPipeline(t)
	if len(def.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(def.Stages))
	}
	if def.Stages[0].Parallelism != domain.Single {
		t.Fatalf("expected stage 1 single, got %v", def.Stages[0].Parallelism)
	}
	if def.Stages[1].Parallelism != domain.FanOut {
		t.Fatalf("expected stage 2 fan_out, got %v", def.Stages[1].Parallelism)
	}
	if def.Stages[2].Parallelism != domain.FanIn {
		t.Fatalf("expected stage 3 fan_in, got %v", def.Stages[2].Parallelism)
	}
}

func TestPipelineStageTwoFactoryFansOutOnePerItem(t *testing.T) {
	def := registeredPipeline(t)
	items := []any{
		map[string]any{"id": 1},
		map[string]any{"id": 2},
		map[string]any{"id": 3},
	}
	descriptors, err := def.Factory[2](2, domain.Params{"items": items}, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if len(descriptors) != len(items) {
		t.Fatalf("expected %d descriptors, got %d", len(items), len(descriptors))
	}
	for i, d := range descriptors {
		if d.TaskType != "process_item" {
			t.Fatalf("unexpected task_type: %s", d.TaskType)
		}
		if d.Parameters["item"] != items[i] {
			t.Fatalf("descriptor %d did not carry its source item through", i)
		}
	}
}

func TestPipelineStageThreeFactoryProducesSingleFanInTask(t *testing.T) {
	def := registeredPipeline(t)
	previous := []domain.TaskResult{
		{TaskID: "t1", Success: true},
		{TaskID: "t2", Success: false},
	}
	descriptors, err := def.Factory[3](3, domain.Params{}, previous)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].TaskType != "finalize_results" {
		t.Fatalf("expected exactly one finalize_results descriptor, got %+v", descriptors)
	}
}

func TestPipelineSummarizeCountsSuccessAndFailure(t *testing.T) {
	def := registeredPipeline(t)
	summary := def.Summarize(2, []domain.TaskResult{
		{TaskID: "t1", Success: true},
		{TaskID: "t2", Success: false},
		{TaskID: "t3", Success: true},
	})
	if summary["succeeded"] != 2 || summary["failed"] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary["stage"] != 2 {
		t.Fatalf("expected stage=2 in summary, got %+v", summary)
	}
}

func TestPipelineFinalizeReturnsStageThreeResult(t *testing.T) {
	def := registeredPipeline(t)
	result, err := def.Finalize(context.Background(), &domain.Job{}, []domain.TaskResult{
		{TaskID: "t1", Success: true, Result: domain.Params{"summary": "2 succeeded, 0 failed"}},
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result["summary"] != "2 succeeded, 0 failed" {
		t.Fatalf("unexpected finalize result: %+v", result)
	}
}

func TestPipelineFinalizeErrorsWhenStageThreeProducedNoResult(t *testing.T) {
	def := registeredPipeline(t)
	_, err := def.Finalize(context.Background(), &domain.Job{}, nil)
	if err == nil {
		t.Fatalf("expected an error when stage 3 produced no result")
	}
}
