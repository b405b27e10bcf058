// Package runtime implements the two task-handler contexts (spec.md §4.6,
// §4.7), grounded on the teacher's internal/jobs/runtime/context.go.
package runtime

import (
	"context"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// ShortContext is the context passed to a handler running under the
// short-lived WorkerLoop: no checkpoint, no shutdown awareness. The handler
// runs to completion within the serverless runtime's hard deadline; on
// timeout the broker's lock expires and the message is redelivered.
type ShortContext struct {
	Ctx        context.Context
	TaskID     string
	JobID      string
	Parameters domain.Params
}

func NewShortContext(ctx context.Context, taskID, jobID string, params domain.Params) *ShortContext {
	return &ShortContext{Ctx: ctx, TaskID: taskID, JobID: jobID, Parameters: params}
}
