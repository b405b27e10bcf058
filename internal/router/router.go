// Package router implements TaskRouter: a pure, I/O-free function from a
// task descriptor and job parameters to a destination queue name
// (spec.md §4.4).
package router

import (
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// TaskDescriptor is the routing-relevant subset of a dispatched task.
type TaskDescriptor struct {
	TaskType        string
	PayloadSizeBytes int64
}

// Config is the router's static, process-start-loaded configuration
// (spec.md §6 configuration surface: router.long_queue_task_types,
// router.size_threshold_bytes).
type Config struct {
	DefaultQueue           string
	LongQueue              string
	LongQueueTaskTypes     map[string]bool
	SizeThresholdBytes     int64
}

// Router evaluates the spec.md §4.4 rules in order. It holds no mutable
// state and performs no I/O -- every call is a pure function of its inputs
// (testable property 10).
type Router struct {
	cfg Config
}

func New(cfg Config) *Router {
	if cfg.LongQueueTaskTypes == nil {
		cfg.LongQueueTaskTypes = map[string]bool{}
	}
	return &Router{cfg: cfg}
}

// Route chooses a destination queue for a task, evaluated in exactly the
// rule order of spec.md §4.4:
//  1. Explicit override from job parameters (processing_mode = "long").
//  2. Task-type allowlist per queue (static registry configuration).
//  3. Estimated payload size threshold.
//  4. Default queue for the job_type.
func (r *Router) Route(desc TaskDescriptor, jobParams domain.Params) string {
	if mode, ok := jobParams["processing_mode"].(string); ok && mode == "long" {
		return r.cfg.LongQueue
	}
	if r.cfg.LongQueueTaskTypes[desc.TaskType] {
		return r.cfg.LongQueue
	}
	if r.cfg.SizeThresholdBytes > 0 && desc.PayloadSizeBytes > r.cfg.SizeThresholdBytes {
		return r.cfg.LongQueue
	}
	return r.cfg.DefaultQueue
}
