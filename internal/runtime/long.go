package runtime

import (
	"context"

	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
)

// ProgressReporter records a handler's advisory progress report. It has no
// effect on orchestration semantics (spec.md §4.7: "advisory; no semantic
// effect").
type ProgressReporter func(ctx context.Context, taskID string, percent int, message string)

// LongContext is the context passed to a handler running under the
// long-running WorkerLoop: checkpoint-aware and shutdown-aware (the
// DockerTaskContext of spec.md §4.7).
type LongContext struct {
	Ctx        context.Context
	TaskID     string
	JobID      string
	Parameters domain.Params

	checkpoint *checkpoint.Manager
	shutdown   *ShutdownSignal
	progress   ProgressReporter
	log        *logger.Logger
}

func NewLongContext(ctx context.Context, taskID, jobID string, params domain.Params, ckpt *checkpoint.Manager, shutdown *ShutdownSignal, progress ProgressReporter, log *logger.Logger) *LongContext {
	if progress == nil {
		progress = func(context.Context, string, int, string) {}
	}
	return &LongContext{
		Ctx: ctx, TaskID: taskID, JobID: jobID, Parameters: params,
		checkpoint: ckpt, shutdown: shutdown, progress: progress, log: log,
	}
}

// ShouldSkip reports whether phaseIndex's work is already done and its
// artifact (if validated) still exists.
func (c *LongContext) ShouldSkip(phaseIndex int, validator checkpoint.ArtifactValidator) (bool, error) {
	return c.checkpoint.ShouldSkip(c.Ctx, c.TaskID, phaseIndex, validator)
}

// SaveCheckpoint persists phase progress. Monotonic phase is enforced by the
// underlying store.
func (c *LongContext) SaveCheckpoint(phase int, payload domain.Params) error {
	return c.checkpoint.Save(c.Ctx, c.TaskID, phase, payload)
}

// GetCheckpointData reads a key from the last saved checkpoint payload.
func (c *LongContext) GetCheckpointData(key string, def any) (any, error) {
	return c.checkpoint.GetData(c.Ctx, c.TaskID, key, def)
}

// ShutdownRequested reports whether SIGTERM/SIGINT has been received.
func (c *LongContext) ShutdownRequested() bool {
	return c.shutdown.IsSet()
}

// ReportProgress records advisory progress; it never affects stage
// advancement or task status.
func (c *LongContext) ReportProgress(percent int, message string) {
	c.progress(c.Ctx, c.TaskID, percent, message)
	if c.log != nil {
		c.log.Debug("task progress", "task_id", c.TaskID, "percent", percent, "message", message)
	}
}
