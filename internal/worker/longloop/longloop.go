// Package longloop implements the long-running WorkerLoop (spec.md §4.8),
// grounded on the teacher's internal/jobs/worker/worker.go polling loop
// (ticker-driven claim, panic recovery, heartbeat goroutine) adapted from
// SQL-claim polling to broker receive() polling, with a lock-renewer
// goroutine standing in for the teacher's heartbeat goroutine.
package longloop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/coremachine"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
	"github.com/rob634/rmhgeoapi-sub015/internal/runtime"
)

// QueueSet is one polled queue and its delivery configuration.
type QueueSet struct {
	Name   string
	Config broker.QueueConfig
}

// Loop is a single-container polling worker: one message in flight at a
// time, horizontal scale-out via additional containers as competing
// consumers (spec.md §5).
type Loop struct {
	Machine  *coremachine.CoreMachine
	Broker   broker.Broker
	Queues   []QueueSet
	Log      *logger.Logger
	Shutdown *runtime.ShutdownSignal

	// PollInterval between empty receive() attempts. Defaults to 1s,
	// matching the teacher's worker.runLoop ticker cadence.
	PollInterval time.Duration
	// RenewSafetyFactor scales queue.lock_duration down to derive the
	// lock-renewer's tick interval (e.g. 0.5 renews at half the lock
	// duration). Defaults to 0.5.
	RenewSafetyFactor float64
}

func New(cm *coremachine.CoreMachine, br broker.Broker, queues []QueueSet, log *logger.Logger) *Loop {
	return &Loop{
		Machine:           cm,
		Broker:            br,
		Queues:            queues,
		Log:               log,
		Shutdown:          runtime.NewShutdownSignal(),
		PollInterval:      time.Second,
		RenewSafetyFactor: 0.5,
	}
}

// Run blocks until ctx is cancelled or a termination signal arrives, polling
// every configured queue in round-robin. One goroutine per Loop; run
// multiple Loops (one per process) for horizontal scale-out.
func (l *Loop) Run(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		l.Shutdown.Set()
		if l.Log != nil {
			l.Log.Info("shutdown signal received, draining in-flight work")
		}
	}()

	ticker := time.NewTicker(l.pollInterval())
	defer ticker.Stop()

	for {
		if l.Shutdown.IsSet() {
			if l.Log != nil {
				l.Log.Info("worker loop exiting")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

func (l *Loop) pollOnce(ctx context.Context) {
	for _, qs := range l.Queues {
		if l.Shutdown.IsSet() {
			return
		}
		msgs, err := l.Broker.Receive(ctx, qs.Name, 1, 0)
		if err != nil {
			if l.Log != nil {
				l.Log.Warn("receive failed", "queue", qs.Name, "error", err)
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		l.handle(ctx, qs, msgs[0])
	}
}

func (l *Loop) handle(ctx context.Context, qs QueueSet, msg broker.Message) {
	var taskMsg domain.TaskMessage
	if err := json.Unmarshal(msg.Body, &taskMsg); err != nil {
		l.deadLetter(ctx, msg, fmt.Sprintf("malformed task message: %v", err))
		return
	}

	if qs.Config.MaxDeliveryCount > 0 && int(msg.DeliveryCount) > qs.Config.MaxDeliveryCount {
		if _, err := l.Machine.FailTaskDeliveryExhausted(ctx, taskMsg); err != nil {
			l.logTaskError("fail delivery-exhausted task", err, taskMsg)
		}
		l.deadLetter(ctx, msg, "max delivery count exceeded")
		return
	}

	stopRenew := l.startRenewer(ctx, qs, msg)
	defer stopRenew()

	disposition, runErr := l.runHandler(ctx, taskMsg)
	if runErr != nil {
		l.logTaskError("process_task_message", runErr, taskMsg)
	}

	switch disposition {
	case coremachine.DispositionComplete:
		if err := l.Broker.Complete(ctx, msg); err != nil {
			l.logTaskError("complete", err, taskMsg)
		}
	case coremachine.DispositionDeadLetter:
		reason := "contract violation"
		if runErr != nil {
			reason = runErr.Error()
		}
		l.deadLetter(ctx, msg, reason)
	default:
		// Covers HandlerRetryable and the normalized "interrupted ⇒
		// abandon, never complete" rule: completing here would orphan
		// checkpointed work a later redelivery should resume.
		if err := l.Broker.Abandon(ctx, msg); err != nil {
			l.logTaskError("abandon", err, taskMsg)
		}
	}
}

// runHandler wraps CoreMachine.ProcessTaskMessage with panic recovery, the
// teacher's worker.go safety net against a handler crashing the process.
func (l *Loop) runHandler(ctx context.Context, taskMsg domain.TaskMessage) (disposition coremachine.Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			if l.Log != nil {
				l.Log.Error("handler panic", "task_id", taskMsg.TaskID, "panic", r)
			}
			disposition, err = coremachine.DispositionAbandon, fmt.Errorf("handler panic: %v", r)
		}
	}()

	opts := coremachine.TaskRunOptions{
		Shutdown: l.Shutdown,
		Progress: l.reportProgress,
	}
	return l.Machine.ProcessTaskMessage(ctx, taskMsg, coremachine.ModeLong, opts)
}

func (l *Loop) reportProgress(_ context.Context, taskID string, percent int, message string) {
	if l.Log != nil {
		l.Log.Debug("task progress", "task_id", taskID, "percent", percent, "message", message)
	}
}

// startRenewer launches a goroutine that periodically calls RenewLock so the
// message stays invisible to other consumers for the duration of a
// long-running handler invocation, standing in for the teacher's heartbeat
// goroutine.
func (l *Loop) startRenewer(ctx context.Context, qs QueueSet, msg broker.Message) func() {
	interval := time.Duration(float64(qs.Config.LockDuration) * l.renewSafetyFactor())
	if interval <= 0 {
		interval = 30 * time.Second
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := l.Broker.RenewLock(ctx, msg, qs.Config.LockDuration); err != nil && l.Log != nil {
					l.Log.Warn("renew_lock failed", "queue", qs.Name, "message_id", msg.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (l *Loop) deadLetter(ctx context.Context, msg broker.Message, reason string) {
	if err := l.Broker.DeadLetter(ctx, msg, reason); err != nil && l.Log != nil {
		l.Log.Warn("dead_letter failed", "queue", msg.Queue, "message_id", msg.ID, "error", err)
	}
}

func (l *Loop) logTaskError(step string, err error, taskMsg domain.TaskMessage) {
	if l.Log == nil {
		return
	}
	l.Log.Error(step, "task_id", taskMsg.TaskID, "job_id", taskMsg.ParentJobID, "error", err)
}

func (l *Loop) pollInterval() time.Duration {
	if l.PollInterval <= 0 {
		return time.Second
	}
	return l.PollInterval
}

func (l *Loop) renewSafetyFactor() float64 {
	if l.RenewSafetyFactor <= 0 {
		return 0.5
	}
	return l.RenewSafetyFactor
}
