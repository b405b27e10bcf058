package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
)

type noopHandler struct{ taskType string }

func (h noopHandler) Type() string { return h.taskType }
func (h noopHandler) Run(ctx context.Context, taskCtx any, params domain.Params) (domain.HandlerResult, error) {
	return domain.HandlerResult{Success: true}, nil
}

func TestHandlerRegistryDuplicatePanics(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	reg.Register(noopHandler{taskType: "echo"})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	reg.Register(noopHandler{taskType: "echo"})
}

func TestHandlerRegistryUnknownTypeError(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	_, err := reg.Get("does_not_exist")
	if err == nil {
		t.Fatalf("expected error for unknown task_type")
	}
}

func TestWorkflowRegistryRegisterAfterFreezePanics(t *testing.T) {
	reg := registry.NewWorkflowRegistry()
	reg.Register(&domain.WorkflowDefinition{JobType: "echo"})
	reg.Freeze()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Register after Freeze to panic")
		}
	}()
	reg.Register(&domain.WorkflowDefinition{JobType: "other"})
}

func TestWorkflowRegistryDuplicatePanics(t *testing.T) {
	reg := registry.NewWorkflowRegistry()
	reg.Register(&domain.WorkflowDefinition{JobType: "echo"})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate job_type registration to panic")
		}
	}()
	reg.Register(&domain.WorkflowDefinition{JobType: "echo"})
}

func TestWorkflowRegistryGetUnknownJobType(t *testing.T) {
	reg := registry.NewWorkflowRegistry()
	reg.Freeze()
	if _, err := reg.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown job_type")
	}
}

func TestLoadOverridesMissingFileIsNotAnError(t *testing.T) {
	overrides, err := registry.LoadOverrides(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing overrides file should not error, got %v", err)
	}
	if _, ok := overrides.For("echo", 1); ok {
		t.Fatalf("expected no override for an empty overrides document")
	}
}

func TestLoadOverridesParsesPerStageQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	content := "workflows:\n  echo:\n    1:\n      queue: tasks-long\n      max_retries: 7\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write overrides file: %v", err)
	}

	overrides, err := registry.LoadOverrides(path)
	if err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	got, ok := overrides.For("echo", 1)
	if !ok {
		t.Fatalf("expected an override for echo stage 1")
	}
	if got.Queue != "tasks-long" || got.MaxRetries != 7 {
		t.Fatalf("unexpected override: %+v", got)
	}

	if _, ok := overrides.For("echo", 2); ok {
		t.Fatalf("expected no override for a stage not present in the document")
	}
}

func TestNilOverridesForIsSafe(t *testing.T) {
	var overrides *registry.WorkflowOverrides
	if _, ok := overrides.For("echo", 1); ok {
		t.Fatalf("expected nil *WorkflowOverrides.For to report ok=false")
	}
}
