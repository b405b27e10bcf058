// Package jobloop polls the job-queue and drives CoreMachine.ProcessJobMessage
// (spec.md §4.5 process_job_message): the stage-dispatch half of the system,
// distinct from the task-queue WorkerLoops (internal/worker/shortloop,
// internal/worker/longloop) since it never invokes a task Handler and so
// needs neither checkpoint nor shutdown-interrupt plumbing -- only the
// teacher's polling/panic-recovery shape.
package jobloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/coremachine"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
)

type Loop struct {
	Machine *coremachine.CoreMachine
	Broker  broker.Broker
	Queue   string
	Config  broker.QueueConfig
	Log     *logger.Logger

	PollInterval time.Duration
}

func New(cm *coremachine.CoreMachine, br broker.Broker, queue string, cfg broker.QueueConfig, log *logger.Logger) *Loop {
	return &Loop{Machine: cm, Broker: br, Queue: queue, Config: cfg, Log: log, PollInterval: time.Second}
}

// Run polls the job-queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	interval := l.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

func (l *Loop) pollOnce(ctx context.Context) {
	msgs, err := l.Broker.Receive(ctx, l.Queue, 1, 0)
	if err != nil {
		if l.Log != nil {
			l.Log.Warn("receive failed", "queue", l.Queue, "error", err)
		}
		return
	}
	if len(msgs) == 0 {
		return
	}
	l.handle(ctx, msgs[0])
}

func (l *Loop) handle(ctx context.Context, msg broker.Message) {
	var jobMsg domain.JobMessage
	if err := json.Unmarshal(msg.Body, &jobMsg); err != nil {
		l.deadLetter(ctx, msg, fmt.Sprintf("malformed job message: %v", err))
		return
	}

	if l.Config.MaxDeliveryCount > 0 && int(msg.DeliveryCount) > l.Config.MaxDeliveryCount {
		l.deadLetter(ctx, msg, "max delivery count exceeded")
		return
	}

	err := l.runMachine(ctx, jobMsg)
	switch {
	case err == nil:
		if ackErr := l.Broker.Complete(ctx, msg); ackErr != nil && l.Log != nil {
			l.Log.Error("complete failed", "job_id", jobMsg.JobID, "error", ackErr)
		}
	case errors.Is(err, domain.ErrContractViolation), errors.Is(err, domain.ErrUnknownJobType):
		l.deadLetter(ctx, msg, err.Error())
	default:
		if l.Log != nil {
			l.Log.Warn("process_job_message failed, abandoning for redelivery", "job_id", jobMsg.JobID, "error", err)
		}
		if abErr := l.Broker.Abandon(ctx, msg); abErr != nil && l.Log != nil {
			l.Log.Error("abandon failed", "job_id", jobMsg.JobID, "error", abErr)
		}
	}
}

// runMachine wraps ProcessJobMessage with panic recovery, matching the
// teacher's worker.go safety net.
func (l *Loop) runMachine(ctx context.Context, jobMsg domain.JobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if l.Log != nil {
				l.Log.Error("process_job_message panic", "job_id", jobMsg.JobID, "panic", r)
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.Machine.ProcessJobMessage(ctx, jobMsg)
}

func (l *Loop) deadLetter(ctx context.Context, msg broker.Message, reason string) {
	if err := l.Broker.DeadLetter(ctx, msg, reason); err != nil && l.Log != nil {
		l.Log.Warn("dead_letter failed", "queue", msg.Queue, "message_id", msg.ID, "error", err)
	}
}
