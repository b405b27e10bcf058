// Package shortloop implements the short-lived WorkerLoop (spec.md §4.6/§4.8
// table row "single invocation per handler instance"): one call handles
// exactly one broker message and returns, suited to a serverless runtime
// invocation (Cloud Function / Lambda style) rather than a long polling
// process.
package shortloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/coremachine"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
)

// Loop handles one invocation of a single task-queue message.
type Loop struct {
	Machine *coremachine.CoreMachine
	Broker  broker.Broker
	Queue   string
	Config  broker.QueueConfig
	Log     *logger.Logger
}

func New(cm *coremachine.CoreMachine, br broker.Broker, queue string, cfg broker.QueueConfig, log *logger.Logger) *Loop {
	return &Loop{Machine: cm, Broker: br, Queue: queue, Config: cfg, Log: log}
}

// Invoke receives up to one message from Queue and drives it to completion.
// It returns (false, nil) when the queue was empty -- the caller's
// serverless trigger should simply not have fired, so this is not an error.
func (l *Loop) Invoke(ctx context.Context) (handled bool, err error) {
	msgs, err := l.Broker.Receive(ctx, l.Queue, 1, 0)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}
	msg := msgs[0]

	var taskMsg domain.TaskMessage
	if err := json.Unmarshal(msg.Body, &taskMsg); err != nil {
		return true, l.Broker.DeadLetter(ctx, msg, fmt.Sprintf("malformed task message: %v", err))
	}

	if l.Config.MaxDeliveryCount > 0 && int(msg.DeliveryCount) > l.Config.MaxDeliveryCount {
		if _, err := l.Machine.FailTaskDeliveryExhausted(ctx, taskMsg); err != nil {
			l.logError("fail delivery-exhausted task", err, taskMsg)
		}
		return true, l.Broker.DeadLetter(ctx, msg, "max delivery count exceeded")
	}

	disposition, runErr := l.Machine.ProcessTaskMessage(ctx, taskMsg, coremachine.ModeShort, coremachine.TaskRunOptions{})
	if runErr != nil {
		l.logError("process_task_message", runErr, taskMsg)
	}

	switch disposition {
	case coremachine.DispositionComplete:
		return true, l.Broker.Complete(ctx, msg)
	case coremachine.DispositionDeadLetter:
		reason := "contract violation"
		if runErr != nil {
			reason = runErr.Error()
		}
		return true, l.Broker.DeadLetter(ctx, msg, reason)
	default:
		return true, l.Broker.Abandon(ctx, msg)
	}
}

func (l *Loop) logError(msg string, err error, taskMsg domain.TaskMessage) {
	if l.Log == nil {
		return
	}
	l.Log.Error(msg, "task_id", taskMsg.TaskID, "job_id", taskMsg.ParentJobID, "error", err)
}
