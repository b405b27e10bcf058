package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageOverride is additive operability tuning for a single stage: it can
// retarget a stage's queue without a redeploy. MaxRetries is parsed but
// nothing reads it, so it has no effect. An override can never define a
// stage's task_type or task-definition factory -- those remain Go-literal
// closures registered via Register.
type StageOverride struct {
	Queue      string `yaml:"queue,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// WorkflowOverrides is the YAML document shape: job_type -> stage number ->
// override.
type WorkflowOverrides struct {
	Workflows map[string]map[int]StageOverride `yaml:"workflows"`
}

// LoadOverrides reads a YAML file of per-stage operability overrides. A
// missing file is not an error: overrides are optional, additive tuning.
func LoadOverrides(path string) (*WorkflowOverrides, error) {
	if path == "" {
		return &WorkflowOverrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &WorkflowOverrides{}, nil
		}
		return nil, fmt.Errorf("registry: read overrides %s: %w", path, err)
	}
	var out WorkflowOverrides
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("registry: parse overrides %s: %w", path, err)
	}
	return &out, nil
}

// For looks up the override for (job_type, stage), returning ok=false when
// none is configured.
func (w *WorkflowOverrides) For(jobType string, stage int) (StageOverride, bool) {
	if w == nil || w.Workflows == nil {
		return StageOverride{}, false
	}
	stages, ok := w.Workflows[jobType]
	if !ok {
		return StageOverride{}, false
	}
	o, ok := stages[stage]
	return o, ok
}
